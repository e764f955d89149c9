//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package esam

import (
	"fmt"

	"git.sr.ht/~vejnar/GeneTrack/lib/cigar"
)

// PathSAM stores Path to SAM (Binary=false) or BAM (Binary=true) file.
type PathSAM struct {
	Path   string
	Binary bool
}

type Strand int8

const (
	Forward Strand = 1
	Reverse Strand = -1
)

func (s Strand) String() string {
	switch s {
	case Forward:
		return "+"
	case Reverse:
		return "-"
	}
	return "."
}

func (s Strand) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mate is the position of the other read of a pair.
type Mate struct {
	Chrom  string `json:"chrom"`
	Start  int    `json:"start"`
	Strand Strand `json:"strand"`
}

// Record is one read aligned on a reference with half-open coordinates [Start,End).
// ID is unique within a load, Name is shared by the reads of a pair.
type Record struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Chrom  string `json:"chrom"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Strand Strand `json:"strand"`
	MapQ   int    `json:"mapq"`
	Cigar  string `json:"cigar"`
	Seq    string `json:"seq,omitempty"`
	Mate   *Mate  `json:"mate,omitempty"`
}

// Validate checks coordinates, strand and mapping quality.
func (r Record) Validate() error {
	if r.Start < 0 || r.Start >= r.End {
		return fmt.Errorf("invalid interval [%d,%d)", r.Start, r.End)
	}
	if r.Strand != Forward && r.Strand != Reverse {
		return fmt.Errorf("invalid strand %d", r.Strand)
	}
	if r.MapQ < 0 || r.MapQ > 255 {
		return fmt.Errorf("invalid mapping quality %d", r.MapQ)
	}
	return nil
}

// Decode validates the record and decodes its CIGAR anchored at Start. The reference span of
// the CIGAR must be [Start,End).
func (r Record) Decode() ([]cigar.Op, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	ops, err := cigar.Decode(r.Cigar, r.Start)
	if err != nil {
		return nil, err
	}
	if start, end := cigar.Span(ops); start != r.Start || end != r.End {
		return nil, fmt.Errorf("cigar span [%d,%d) does not match interval [%d,%d)", start, end, r.Start, r.End)
	}
	if r.Seq != "" {
		if l := cigar.QueryLength(ops); l != len(r.Seq) {
			return nil, fmt.Errorf("sequence length %d does not match cigar query length %d", len(r.Seq), l)
		}
	}
	return ops, nil
}

// RecordError reports a record dropped from a pass.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}
