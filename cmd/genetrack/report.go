//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package main

import (
	"os"

	"git.sr.ht/~vejnar/GeneTrack/lib/output"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"
	"git.sr.ht/~vejnar/GeneTrack/lib/viewport"
)

type RegionReport struct {
	Region     string        `json:"region"`
	Resolution int           `json:"resolution"`
	Window     pileup.Region `json:"window"`
	Generation uint64        `json:"generation"`
	CacheHit   bool          `json:"cache_hit"`
	Rows       int           `json:"rows"`
	Junctions  int           `json:"junctions"`
	Dropped    int           `json:"dropped"`
	Error      string        `json:"error,omitempty"`
}

type Report struct {
	AlignRead   int            `json:"align_read"`
	AlignKept   int            `json:"align_kept"`
	AlignUnique int            `json:"align_unique"`
	Indexed     int            `json:"indexed"`
	Loads       int            `json:"loads"`
	CacheHits   int            `json:"cache_hits"`
	Dropped     int            `json:"dropped"`
	Regions     []RegionReport `json:"regions"`
}

func (r *Report) Add(state viewport.State, snap *viewport.Snapshot, cacheHit bool, err error) {
	rr := RegionReport{Region: state.String(), CacheHit: cacheHit}
	if snap != nil {
		rr.Resolution = snap.Resolution
		rr.Window = snap.Window
		rr.Generation = snap.Generation
		rr.Rows = snap.Reads.Rows
		rr.Junctions = len(snap.Junctions)
		rr.Dropped = len(snap.Errors)
	}
	if err != nil {
		rr.Error = err.Error()
	} else if cacheHit {
		r.CacheHits++
	} else {
		r.Loads++
		r.Dropped += rr.Dropped
	}
	r.Regions = append(r.Regions, rr)
}

func WriteReport(pathReport string, report *Report) error {
	if pathReport == "-" {
		return output.WriteJSON(os.Stdout, report)
	}
	f, err := output.Create(pathReport, "", false)
	if err != nil {
		return err
	}
	if err := output.WriteJSON(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
