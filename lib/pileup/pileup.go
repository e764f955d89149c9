//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package pileup aggregates per-position coverage from alignments and smooths continuous signal.
package pileup

import (
	"fmt"

	"git.sr.ht/~vejnar/GeneTrack/lib/cigar"
	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
)

// Base count indexes in Bin.Bases
const (
	BaseA = iota
	BaseC
	BaseG
	BaseT
	BaseN
	nBase
)

var baseIndex [256]int8

func init() {
	for i := range baseIndex {
		baseIndex[i] = BaseN
	}
	for b, i := range map[byte]int8{'A': BaseA, 'C': BaseC, 'G': BaseG, 'T': BaseT, 'a': BaseA, 'c': BaseC, 'g': BaseG, 't': BaseT} {
		baseIndex[b] = i
	}
}

// Region is a half-open interval [Start,End).
type Region struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Region) Len() int {
	return r.End - r.Start
}

// Contains reports whether o is inside r.
func (r Region) Contains(o Region) bool {
	return o.Start >= r.Start && o.End <= r.End
}

func (r Region) Validate() error {
	if r.Start < 0 || r.Start >= r.End {
		return &InvalidRegionError{Start: r.Start, End: r.End}
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

type InvalidRegionError struct {
	Start, End int
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("invalid region [%d,%d)", e.Start, e.End)
}

// Bin holds coverage over [Start,End). Depth == Forward + Reverse and Depth >= every base count.
type Bin struct {
	Start   int        `json:"start"`
	End     int        `json:"end"`
	Depth   int        `json:"depth"`
	Forward int        `json:"forward"`
	Reverse int        `json:"reverse"`
	Bases   [nBase]int `json:"bases"`
}

// Mean returns the mean per-base depth of the bin.
func (b Bin) Mean() float64 {
	if b.End <= b.Start {
		return 0
	}
	return float64(b.Depth) / float64(b.End-b.Start)
}

func (b *Bin) add(o Bin) {
	b.Depth += o.Depth
	b.Forward += o.Forward
	b.Reverse += o.Reverse
	for i := range b.Bases {
		b.Bases[i] += o.Bases[i]
	}
}

type Options struct {
	// Do not count skipped regions (N operations) in depth
	ExcludeSkips bool
}

// Result of an aggregation pass. Errors lists the records dropped from the pass.
type Result struct {
	Region Region             `json:"region"`
	Bins   []Bin              `json:"bins"`
	Errors []esam.RecordError `json:"-"`
}

func newBins(region Region) []Bin {
	bins := make([]Bin, region.Len())
	for i := range bins {
		bins[i].Start = region.Start + i
		bins[i].End = region.Start + i + 1
	}
	return bins
}

// Aggregate computes one Bin per position of region. Only positions inside region are materialized.
// Records with an invalid CIGAR are dropped and reported in Result.Errors.
func Aggregate(records []esam.Record, region Region, opts Options) (Result, error) {
	if err := region.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{Region: region, Bins: newBins(region)}
	for _, r := range records {
		// Decode checks the declared interval against the CIGAR span
		if r.End <= region.Start || r.Start >= region.End {
			continue
		}
		ops, err := r.Decode()
		if err != nil {
			res.Errors = append(res.Errors, esam.RecordError{ID: r.ID, Err: err})
			continue
		}
		addRecord(res.Bins, region, r, ops, opts)
	}
	return res, nil
}

func addRecord(bins []Bin, region Region, r esam.Record, ops []cigar.Op, opts Options) {
	for _, op := range ops {
		if !op.Kind.ConsumesReference() {
			continue
		}
		if op.Kind == cigar.Skip && opts.ExcludeSkips {
			continue
		}
		withBase := r.Seq != "" && op.Kind.ConsumesQuery()
		for pos := max(op.RefStart, region.Start); pos < min(op.RefEnd, region.End); pos++ {
			b := &bins[pos-region.Start]
			b.Depth++
			if r.Strand == esam.Forward {
				b.Forward++
			} else {
				b.Reverse++
			}
			if withBase {
				b.Bases[baseIndex[r.Seq[op.QueryStart+pos-op.RefStart]]]++
			}
		}
	}
}

// Merge adds partial bin arrays computed over the same region field by field.
func Merge(parts ...[]Bin) ([]Bin, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	merged := make([]Bin, len(parts[0]))
	copy(merged, parts[0])
	for ip, part := range parts[1:] {
		if len(part) != len(merged) {
			return nil, fmt.Errorf("part %d has %d bins, expected %d", ip+1, len(part), len(merged))
		}
		for i := range part {
			if part[i].Start != merged[i].Start || part[i].End != merged[i].End {
				return nil, fmt.Errorf("part %d bin %d [%d,%d) does not match [%d,%d)", ip+1, i, part[i].Start, part[i].End, merged[i].Start, merged[i].End)
			}
			merged[i].add(part[i])
		}
	}
	return merged, nil
}

// Rebin folds consecutive per-base bins into bins of size bp aligned on multiples of size. Edge
// bins are clipped to the input span. Counts are summed, use Bin.Mean for per-base depth.
func Rebin(bins []Bin, size int) []Bin {
	if size <= 1 {
		out := make([]Bin, len(bins))
		copy(out, bins)
		return out
	}
	var out []Bin
	for _, b := range bins {
		k := floorDiv(b.Start, size)
		if n := len(out); n > 0 && floorDiv(out[n-1].Start, size) == k {
			out[n-1].add(b)
			out[n-1].End = b.End
			continue
		}
		out = append(out, b)
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
