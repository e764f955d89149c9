//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package esam

import (
	"github.com/biogo/hts/sam"
)

// Filter selects which SAM records are converted.
type Filter struct {
	MinMappingQuality byte
	KeepSecondary     bool
	KeepSupplementary bool
	KeepDuplicate     bool
	KeepQCFail        bool
}

// Keep reports whether r passes the filter. Unmapped reads are never kept.
func (f Filter) Keep(r *sam.Record) bool {
	if r.Flags&sam.Unmapped != 0 || len(r.Cigar) == 0 || r.Ref == nil {
		return false
	}
	if r.Flags&sam.Secondary != 0 && !f.KeepSecondary {
		return false
	}
	if r.Flags&sam.Supplementary != 0 && !f.KeepSupplementary {
		return false
	}
	if r.Flags&sam.Duplicate != 0 && !f.KeepDuplicate {
		return false
	}
	if r.Flags&sam.QCFail != 0 && !f.KeepQCFail {
		return false
	}
	return r.MapQ >= f.MinMappingQuality
}

// FromSAM converts a biogo record. The ID gets a /1 or /2 suffix for paired reads.
func FromSAM(r *sam.Record, f Filter) (Record, bool) {
	if !f.Keep(r) {
		return Record{}, false
	}
	rec := Record{
		ID:     r.Name,
		Name:   r.Name,
		Chrom:  r.Ref.Name(),
		Start:  r.Start(),
		End:    r.End(),
		Strand: Strand(r.Strand()),
		MapQ:   int(r.MapQ),
		Cigar:  r.Cigar.String(),
	}
	if r.Flags&sam.Paired != 0 {
		if r.Flags&sam.Read1 != 0 {
			rec.ID += "/1"
		} else if r.Flags&sam.Read2 != 0 {
			rec.ID += "/2"
		}
		if r.Flags&sam.MateUnmapped == 0 && r.MateRef != nil {
			mate := Mate{Chrom: r.MateRef.Name(), Start: r.MatePos, Strand: Forward}
			if r.Flags&sam.MateReverse != 0 {
				mate.Strand = Reverse
			}
			rec.Mate = &mate
		}
	}
	if r.Seq.Length > 0 {
		rec.Seq = string(r.Seq.Expand())
	}
	return rec, true
}

// Orientation of a read pair.
type Orientation uint8

const (
	OrientationNone Orientation = iota
	OrientationFR
	OrientationRF
	OrientationFF
	OrientationRR
	OrientationInterChrom
)

var orientationNames = []string{"none", "FR", "RF", "FF", "RR", "inter-chrom"}

func (o Orientation) String() string {
	if int(o) < len(orientationNames) {
		return orientationNames[o]
	}
	return "none"
}

func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// PairOrientation classifies a read and its mate; the strand of the leftmost read comes first.
func PairOrientation(r Record) Orientation {
	if r.Mate == nil {
		return OrientationNone
	}
	if r.Mate.Chrom != r.Chrom {
		return OrientationInterChrom
	}
	if r.Strand == r.Mate.Strand {
		if r.Strand == Forward {
			return OrientationFF
		}
		return OrientationRR
	}
	left := r.Strand
	if r.Mate.Start < r.Start {
		left = r.Mate.Strand
	}
	if left == Forward {
		return OrientationFR
	}
	return OrientationRF
}
