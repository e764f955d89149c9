//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package feature

import (
	"sort"

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"

	"github.com/biogo/store/interval"
)

// ReadIndex answers overlap queries over a batch of records. It is read-only once built.
type ReadIndex struct {
	records []esam.Record
	trees   map[string]*interval.IntTree
	// Records rejected while building
	Errors []esam.RecordError
}

// BuildReadIndex builds one tree per chromosome: each record is added with its [Start,End) range.
func BuildReadIndex(records []esam.Record) *ReadIndex {
	idx := &ReadIndex{records: records, trees: make(map[string]*interval.IntTree)}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			idx.Errors = append(idx.Errors, esam.RecordError{ID: r.ID, Err: err})
			continue
		}
		// New tree for unseen chromosome
		tree, ok := idx.trees[r.Chrom]
		if !ok {
			tree = &interval.IntTree{}
			idx.trees[r.Chrom] = tree
		}
		iv := IntInterval{Start: r.Start, End: r.End, UID: uintptr(i), Index: i}
		if err := tree.Insert(iv, true); err != nil {
			idx.Errors = append(idx.Errors, esam.RecordError{ID: r.ID, Err: err})
		}
	}
	for _, tree := range idx.trees {
		tree.AdjustRanges()
	}
	return idx
}

// Len returns the number of indexed records.
func (idx *ReadIndex) Len() (n int) {
	for _, tree := range idx.trees {
		n += tree.Len()
	}
	return
}

// Query returns the records overlapping [start,end) on chrom, in the order they were indexed.
func (idx *ReadIndex) Query(chrom string, start, end int) []esam.Record {
	tree, ok := idx.trees[chrom]
	if !ok || start >= end {
		return nil
	}
	hits := tree.Get(IntInterval{Start: start, End: end})
	indexes := make([]int, len(hits))
	for i, h := range hits {
		indexes[i] = h.(IntInterval).Index
	}
	sort.Ints(indexes)
	records := make([]esam.Record, len(indexes))
	for i, j := range indexes {
		records[i] = idx.records[j]
	}
	return records
}

// Chroms returns the indexed chromosome names, sorted.
func (idx *ReadIndex) Chroms() []string {
	chroms := make([]string, 0, len(idx.trees))
	for c := range idx.trees {
		chroms = append(chroms, c)
	}
	sort.Strings(chroms)
	return chroms
}
