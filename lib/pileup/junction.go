//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package pileup

import (
	"fmt"
	"sort"

	"git.sr.ht/~vejnar/GeneTrack/lib/cigar"
	"git.sr.ht/~vejnar/GeneTrack/lib/esam"

	"gopkg.in/fatih/set.v0"
)

// Junction is a splice junction: a skipped reference interval [Start,End) supported by reads.
type Junction struct {
	Start   int `json:"start"`
	End     int `json:"end"`
	Forward int `json:"forward"`
	Reverse int `json:"reverse"`
	// Distinct fragments (read names) supporting the junction
	Fragments int `json:"fragments"`
}

func (j Junction) ID() string {
	return fmt.Sprintf("%d-%d", j.Start, j.End)
}

// Junctions extracts the junctions overlapping region from the N operations of records.
// Junctions are sorted by Start then End.
func Junctions(records []esam.Record, region Region) ([]Junction, []esam.RecordError, error) {
	if err := region.Validate(); err != nil {
		return nil, nil, err
	}
	var errs []esam.RecordError
	junctions := make(map[Region]*Junction)
	names := make(map[Region]set.Interface)
	for _, r := range records {
		if r.End <= region.Start || r.Start >= region.End {
			continue
		}
		ops, err := r.Decode()
		if err != nil {
			errs = append(errs, esam.RecordError{ID: r.ID, Err: err})
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		for _, op := range ops {
			if op.Kind != cigar.Skip || op.RefEnd <= region.Start || op.RefStart >= region.End {
				continue
			}
			key := Region{Start: op.RefStart, End: op.RefEnd}
			j, ok := junctions[key]
			if !ok {
				j = &Junction{Start: op.RefStart, End: op.RefEnd}
				junctions[key] = j
				names[key] = set.New(set.NonThreadSafe)
			}
			if r.Strand == esam.Forward {
				j.Forward++
			} else {
				j.Reverse++
			}
			names[key].Add(name)
		}
	}
	out := make([]Junction, 0, len(junctions))
	for key, j := range junctions {
		j.Fragments = names[key].Size()
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Start != out[b].Start {
			return out[a].Start < out[b].Start
		}
		return out[a].End < out[b].End
	})
	return out, errs, nil
}
