//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package layout assigns intervals to display rows so that intervals sharing a row do not overlap.
package layout

import (
	"fmt"
	"sort"

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"

	"gopkg.in/fatih/set.v0"
)

type Interval struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Assignment places interval ID in row Row (0 is the top row).
type Assignment struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Row   int    `json:"row"`
}

// Layout is the result of a packing pass. Assignments are ordered by Start then ID.
type Layout struct {
	Gap         int                `json:"gap"`
	Rows        int                `json:"rows"`
	Assignments []Assignment       `json:"assignments"`
	Errors      []esam.RecordError `json:"-"`
}

// Row returns the row of id.
func (l Layout) Row(id string) (int, bool) {
	for _, a := range l.Assignments {
		if a.ID == id {
			return a.Row, true
		}
	}
	return 0, false
}

// Pack greedily assigns each interval, sorted by start (ties by ID), to the first row whose last
// interval ends, gap included, at or before its start. Zero-length intervals occupy one position.
// Intervals with End < Start or a duplicated ID are dropped and reported in Layout.Errors.
func Pack(intervals []Interval, gap int) (Layout, error) {
	if gap < 0 {
		return Layout{}, fmt.Errorf("negative gap %d", gap)
	}
	l := Layout{Gap: gap}
	sorted := make([]Interval, 0, len(intervals))
	seen := set.New(set.NonThreadSafe)
	for _, iv := range intervals {
		if iv.End < iv.Start {
			l.Errors = append(l.Errors, esam.RecordError{ID: iv.ID, Err: fmt.Errorf("invalid interval [%d,%d)", iv.Start, iv.End)})
			continue
		}
		if seen.Has(iv.ID) {
			l.Errors = append(l.Errors, esam.RecordError{ID: iv.ID, Err: fmt.Errorf("duplicated id")})
			continue
		}
		seen.Add(iv.ID)
		sorted = append(sorted, iv)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].ID < sorted[j].ID
	})

	// End (plus gap) of the last interval of each row
	var rowEnd []int
	l.Assignments = make([]Assignment, len(sorted))
	for i, iv := range sorted {
		end := max(iv.End, iv.Start+1)
		row := -1
		for r, e := range rowEnd {
			if e <= iv.Start {
				row = r
				break
			}
		}
		if row == -1 {
			row = len(rowEnd)
			rowEnd = append(rowEnd, 0)
		}
		rowEnd[row] = end + gap
		l.Assignments[i] = Assignment{ID: iv.ID, Start: iv.Start, End: iv.End, Row: row}
	}
	l.Rows = len(rowEnd)
	return l, nil
}

// PackRecords packs records by their [Start,End) alignment span.
func PackRecords(records []esam.Record, gap int) (Layout, error) {
	intervals := make([]Interval, len(records))
	for i, r := range records {
		intervals[i] = Interval{ID: r.ID, Start: r.Start, End: r.End}
	}
	return Pack(intervals, gap)
}

// PackJunctions packs junction arcs so that no two arcs of a lane overlap.
func PackJunctions(junctions []pileup.Junction, gap int) (Layout, error) {
	intervals := make([]Interval, len(junctions))
	for i, j := range junctions {
		intervals[i] = Interval{ID: j.ID(), Start: j.Start, End: j.End}
	}
	return Pack(intervals, gap)
}

// Check verifies that no two assignments of a row overlap, gap included.
func Check(l Layout) error {
	byRow := make(map[int][]Assignment)
	for _, a := range l.Assignments {
		byRow[a.Row] = append(byRow[a.Row], a)
	}
	for row, as := range byRow {
		sort.Slice(as, func(i, j int) bool { return as[i].Start < as[j].Start })
		for i := 1; i < len(as); i++ {
			prevEnd := max(as[i-1].End, as[i-1].Start+1)
			if as[i].Start < prevEnd+l.Gap {
				return fmt.Errorf("row %d: %s [%d,%d) overlaps %s [%d,%d) with gap %d", row, as[i-1].ID, as[i-1].Start, as[i-1].End, as[i].ID, as[i].Start, as[i].End, l.Gap)
			}
		}
	}
	return nil
}
