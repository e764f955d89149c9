//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package viewport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"git.sr.ht/~vejnar/GeneTrack/lib/cigar"
	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
	"git.sr.ht/~vejnar/GeneTrack/lib/layout"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"

	"github.com/sirupsen/logrus"
)

type Phase uint8

const (
	Empty Phase = iota
	Loading
	Loaded
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	}
	return "empty"
}

// Batch holds everything a Source knows about a load window.
type Batch struct {
	Records []esam.Record
	Samples []pileup.Sample
}

type Source interface {
	Fetch(ctx context.Context, chrom string, window pileup.Region) (Batch, error)
}

// Ticket identifies a requested load. Results are accepted only for the latest ticket.
type Ticket struct {
	Generation uint64
	State      State
	Window     pileup.Region
	Resolution int
}

type StaleResultError struct {
	Generation uint64
	Current    uint64
}

func (e *StaleResultError) Error() string {
	return fmt.Sprintf("stale result of generation %d (current %d)", e.Generation, e.Current)
}

// Read is a packed read with what is needed to draw it: its aligned blocks and the orientation of
// its pair.
type Read struct {
	layout.Assignment
	Strand      esam.Strand      `json:"strand"`
	Orientation esam.Orientation `json:"orientation"`
	Blocks      [][2]int         `json:"blocks"`
}

// Snapshot is an immutable computed view. It is replaced as a whole and must not be modified.
type Snapshot struct {
	Phase      Phase              `json:"phase"`
	Generation uint64             `json:"generation"`
	State      State              `json:"state"`
	Window     pileup.Region      `json:"window"`
	Resolution int                `json:"resolution"`
	Coverage   []pileup.Bin       `json:"coverage"`
	Signal     []pileup.Sample    `json:"signal"`
	Junctions  []pileup.Junction  `json:"junctions"`
	Reads      layout.Layout      `json:"reads"`
	Lanes      []Read             `json:"lanes"`
	Arcs       layout.Layout      `json:"arcs"`
	Packed     bool               `json:"packed"`
	Errors     []esam.RecordError `json:"-"`
}

// Covers reports whether the snapshot can draw s without reloading.
func (sn *Snapshot) Covers(s State, resolution int) bool {
	return sn.Phase == Loaded && sn.State.Chrom == s.Chrom && sn.Resolution == resolution && sn.Window.Contains(s.Region())
}

// Selector keeps the current snapshot of a view and reloads it when the view leaves the buffered
// window or changes resolution. Snapshot can be called concurrently with Begin, Complete and Update.
type Selector struct {
	source Source
	cfg    Config

	mu         sync.Mutex
	generation uint64
	pending    *Ticket

	current atomic.Pointer[Snapshot]
	log     *logrus.Entry
}

func NewSelector(source Source, cfg Config) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &Selector{source: source, cfg: cfg, log: logrus.WithField("component", "viewport")}
	s.current.Store(&Snapshot{Phase: Empty})
	return s, nil
}

func (s *Selector) Config() Config {
	return s.cfg
}

func (s *Selector) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Selector) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return Loading
	}
	return s.current.Load().Phase
}

// Begin registers a new viewport state. It returns true with a new ticket when the state needs a
// load. A state drawable from the current snapshot supersedes any pending load. A state covered
// by the pending load returns the pending ticket and false.
func (s *Selector) Begin(state State) (Ticket, bool, error) {
	if err := state.Validate(); err != nil {
		return Ticket{}, false, err
	}
	res := SelectResolution(state, s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Load().Covers(state, res) {
		if s.pending != nil {
			s.log.Debugf("generation %d superseded by current window", s.pending.Generation)
			s.generation++
			s.pending = nil
		}
		return Ticket{}, false, nil
	}
	if p := s.pending; p != nil && p.State.Chrom == state.Chrom && p.Resolution == res && p.Window.Contains(state.Region()) {
		return *p, false, nil
	}
	s.generation++
	t := Ticket{Generation: s.generation, State: state, Window: LoadWindow(state, res, s.cfg), Resolution: res}
	s.pending = &t
	s.log.Debugf("generation %d: loading %s:%s at %d bp", t.Generation, state.Chrom, t.Window, res)
	return t, true, nil
}

// Complete computes the snapshot of ticket t from batch. On fetch or compute error the previous
// snapshot is kept and returned with the error. Results of superseded tickets are discarded with
// a StaleResultError.
func (s *Selector) Complete(ctx context.Context, t Ticket, batch Batch, fetchErr error) (*Snapshot, error) {
	if err := s.checkCurrent(t); err != nil {
		return nil, err
	}
	var snap *Snapshot
	err := fetchErr
	if err == nil {
		snap, err = s.compute(ctx, t, batch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Generation != s.generation {
		return nil, &StaleResultError{Generation: t.Generation, Current: s.generation}
	}
	s.pending = nil
	if err != nil {
		s.log.Debugf("generation %d failed: %v", t.Generation, err)
		return s.current.Load(), fmt.Errorf("loading %s:%s: %w", t.State.Chrom, t.Window, err)
	}
	s.current.Store(snap)
	s.log.Debugf("generation %d loaded with %d error(s)", t.Generation, len(snap.Errors))
	return snap, nil
}

// Update runs Begin, fetches from the source if needed, and completes the load.
func (s *Selector) Update(ctx context.Context, state State) (*Snapshot, error) {
	t, load, err := s.Begin(state)
	if err != nil {
		return nil, err
	}
	if !load {
		return s.Snapshot(), nil
	}
	batch, err := s.source.Fetch(ctx, state.Chrom, t.Window)
	return s.Complete(ctx, t, batch, err)
}

func (s *Selector) checkCurrent(t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Generation != s.generation {
		return &StaleResultError{Generation: t.Generation, Current: s.generation}
	}
	return nil
}

func (s *Selector) compute(ctx context.Context, t Ticket, batch Batch) (*Snapshot, error) {
	snap := &Snapshot{Phase: Loaded, Generation: t.Generation, State: t.State, Window: t.Window, Resolution: t.Resolution}

	var records []esam.Record
	for _, r := range batch.Records {
		if r.Chrom == t.State.Chrom && r.End > t.Window.Start && r.Start < t.Window.End {
			records = append(records, r)
		}
	}

	// Coverage
	res, err := pileup.AggregateBinned(ctx, records, t.Window, s.cfg.Pileup, t.Resolution, s.cfg.Workers)
	if err != nil {
		return nil, err
	}
	snap.Coverage = res.Bins
	snap.Errors = res.Errors
	bad := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		bad[e.ID] = true
	}

	// Junctions
	junctions, _, err := pileup.Junctions(records, t.Window)
	if err != nil {
		return nil, err
	}
	snap.Junctions = junctions
	if snap.Arcs, err = layout.PackJunctions(junctions, s.cfg.Gap); err != nil {
		return nil, err
	}

	// Reads
	if t.Resolution <= s.cfg.MaxPackResolution {
		good := make([]esam.Record, 0, len(records))
		for _, r := range records {
			if !bad[r.ID] {
				good = append(good, r)
			}
		}
		if snap.Reads, err = layout.PackRecords(good, s.cfg.Gap); err != nil {
			return nil, err
		}
		snap.Packed = true
		snap.Errors = append(snap.Errors, snap.Reads.Errors...)
		if snap.Lanes, err = lanes(good, snap.Reads); err != nil {
			return nil, err
		}
	}

	// Signal
	if len(batch.Samples) > 0 {
		samples := pileup.ClipSamples(batch.Samples, t.Window)
		if t.Resolution > 1 {
			if samples, err = pileup.Summarize(samples, t.Window, t.Resolution); err != nil {
				return nil, err
			}
		}
		if snap.Signal, err = pileup.Smooth(samples, s.cfg.SmoothWindow); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// lanes joins packed assignments with their records. Records reaching the layout decoded
// successfully during the pileup pass.
func lanes(records []esam.Record, l layout.Layout) ([]Read, error) {
	byID := make(map[string]esam.Record, len(records))
	for _, r := range records {
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}
	reads := make([]Read, 0, len(l.Assignments))
	for _, a := range l.Assignments {
		r, ok := byID[a.ID]
		if !ok {
			return nil, fmt.Errorf("assignment %s without record", a.ID)
		}
		ops, err := r.Decode()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", r.ID, err)
		}
		reads = append(reads, Read{Assignment: a, Strand: r.Strand, Orientation: esam.PairOrientation(r), Blocks: cigar.Blocks(ops)})
	}
	return reads, nil
}
