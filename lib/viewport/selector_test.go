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
	"errors"
	"fmt"
	"sync"
	"testing"

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"

	qt "github.com/frankban/quicktest"
)

type fakeSource struct {
	mu      sync.Mutex
	records []esam.Record
	samples []pileup.Sample
	err     error
	fetches []pileup.Region
}

func (f *fakeSource) Fetch(ctx context.Context, chrom string, window pileup.Region) (Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, window)
	if f.err != nil {
		return Batch{}, f.err
	}
	return Batch{Records: f.records, Samples: f.samples}, nil
}

func (f *fakeSource) nFetch() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func testRecords() []esam.Record {
	return []esam.Record{
		{ID: "r1", Name: "r1", Chrom: "chr1", Start: 1000, End: 1050, Strand: esam.Forward, MapQ: 60, Cigar: "50M", Mate: &esam.Mate{Chrom: "chr1", Start: 1200, Strand: esam.Reverse}},
		{ID: "r2", Name: "r2", Chrom: "chr1", Start: 1020, End: 1140, Strand: esam.Forward, MapQ: 60, Cigar: "10M100N10M"},
		{ID: "r3", Name: "r3", Chrom: "chr1", Start: 1000, End: 1010, Strand: esam.Reverse, MapQ: 60, Cigar: "5Q"},
		{ID: "r4", Name: "r4", Chrom: "chr2", Start: 1000, End: 1050, Strand: esam.Reverse, MapQ: 60, Cigar: "50M"},
	}
}

func newTestSelector(c *qt.C, src Source) *Selector {
	s, err := NewSelector(src, DefaultConfig())
	c.Assert(err, qt.IsNil)
	return s
}

func TestSelectorCompute(t *testing.T) {
	c := qt.New(t)
	src := &fakeSource{
		records: testRecords(),
		samples: []pileup.Sample{{Start: 900, End: 1000, Value: 1}, {Start: 1000, End: 1100, Value: 2}, {Start: 1100, End: 1200, Value: 4}},
	}
	s := newTestSelector(c, src)
	c.Assert(s.Phase(), qt.Equals, Empty)

	snap, err := s.Update(context.Background(), State{"chr1", 1000, 1100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(s.Phase(), qt.Equals, Loaded)
	c.Assert(snap.Resolution, qt.Equals, 1)
	c.Assert(snap.Window, qt.Equals, pileup.Region{Start: 950, End: 1150})
	c.Assert(snap.Coverage, qt.HasLen, 200)
	c.Assert(snap.Coverage[0].Start, qt.Equals, 950)
	c.Assert(snap.Coverage[50].Depth, qt.Equals, 1)
	c.Assert(snap.Coverage[80].Depth, qt.Equals, 2)

	c.Assert(snap.Errors, qt.HasLen, 1)
	c.Assert(snap.Errors[0].ID, qt.Equals, "r3")

	c.Assert(snap.Packed, qt.IsTrue)
	c.Assert(snap.Reads.Assignments, qt.HasLen, 2)
	row, ok := snap.Reads.Row("r2")
	c.Assert(ok, qt.IsTrue)
	c.Assert(row, qt.Equals, 1)
	c.Assert(snap.Lanes, qt.DeepEquals, []Read{
		{Assignment: snap.Reads.Assignments[0], Strand: esam.Forward, Orientation: esam.OrientationFR, Blocks: [][2]int{{1000, 1050}}},
		{Assignment: snap.Reads.Assignments[1], Strand: esam.Forward, Orientation: esam.OrientationNone, Blocks: [][2]int{{1020, 1030}, {1130, 1140}}},
	})
	c.Assert(snap.Lanes[0].ID, qt.Equals, "r1")

	c.Assert(snap.Junctions, qt.DeepEquals, []pileup.Junction{{Start: 1030, End: 1130, Forward: 1, Fragments: 1}})
	c.Assert(snap.Arcs.Rows, qt.Equals, 1)
	c.Assert(snap.Signal, qt.DeepEquals, src.samples)
}

func TestSelectorCoarseResolution(t *testing.T) {
	c := qt.New(t)
	src := &fakeSource{records: testRecords(), samples: []pileup.Sample{{Start: 0, End: 500, Value: 1}, {Start: 500, End: 1000, Value: 3}}}
	s := newTestSelector(c, src)
	snap, err := s.Update(context.Background(), State{"chr1", 0, 100000, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Resolution, qt.Equals, 1000)
	c.Assert(snap.Packed, qt.IsFalse)
	c.Assert(snap.Reads.Assignments, qt.HasLen, 0)
	c.Assert(snap.Lanes, qt.HasLen, 0)
	c.Assert(snap.Coverage[0].End, qt.Equals, 1000)
	c.Assert(snap.Coverage[1].Depth, qt.Equals, 50+10+100+10)
	c.Assert(snap.Signal, qt.DeepEquals, []pileup.Sample{{Start: 0, End: 1000, Value: 2}})
}

func TestSelectorBuffer(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &fakeSource{records: testRecords()}
	s := newTestSelector(c, src)

	first, err := s.Update(ctx, State{"chr1", 1000, 1100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(src.nFetch(), qt.Equals, 1)

	// Pan inside the buffer
	snap, err := s.Update(ctx, State{"chr1", 1020, 1120, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(snap, qt.Equals, first)
	c.Assert(src.nFetch(), qt.Equals, 1)

	// Pan outside the buffer
	snap, err = s.Update(ctx, State{"chr1", 1100, 1200, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(src.nFetch(), qt.Equals, 2)
	c.Assert(snap.Window, qt.Equals, pileup.Region{Start: 1050, End: 1250})
	c.Assert(snap.Generation > first.Generation, qt.IsTrue)

	// Other chromosome
	_, err = s.Update(ctx, State{"chr2", 1100, 1200, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(src.nFetch(), qt.Equals, 3)
}

func TestSelectorResolutionChange(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &fakeSource{records: testRecords()}
	s := newTestSelector(c, src)
	snap, err := s.Update(ctx, State{"chr1", 1000, 2000, 1000})
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Resolution, qt.Equals, 1)

	// Same region on fewer pixels
	snap, err = s.Update(ctx, State{"chr1", 1000, 2000, 50})
	c.Assert(err, qt.IsNil)
	c.Assert(src.nFetch(), qt.Equals, 2)
	c.Assert(snap.Resolution, qt.Equals, 100)
	c.Assert(snap.Window, qt.Equals, pileup.Region{Start: 500, End: 2500})
	c.Assert(snap.Coverage, qt.HasLen, 20)
}

func TestSelectorFetchError(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	src := &fakeSource{records: testRecords()}
	s := newTestSelector(c, src)
	first, err := s.Update(ctx, State{"chr1", 1000, 1100, 100})
	c.Assert(err, qt.IsNil)

	errBoom := errors.New("boom")
	src.err = errBoom
	snap, err := s.Update(ctx, State{"chr1", 5000, 5100, 100})
	c.Assert(errors.Is(err, errBoom), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, `loading chr1:\[4950,5150\): boom`)
	c.Assert(snap, qt.Equals, first)
	c.Assert(s.Snapshot(), qt.Equals, first)
	c.Assert(s.Phase(), qt.Equals, Loaded)

	// Retried on next update
	src.err = nil
	snap, err = s.Update(ctx, State{"chr1", 5000, 5100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Window, qt.Equals, pileup.Region{Start: 4950, End: 5150})
}

func TestSelectorInvalidState(t *testing.T) {
	c := qt.New(t)
	src := &fakeSource{}
	s := newTestSelector(c, src)
	_, err := s.Update(context.Background(), State{"chr1", 100, 50, 100})
	var verr *InvalidViewportError
	c.Assert(err, qt.ErrorAs, &verr)
	c.Assert(src.nFetch(), qt.Equals, 0)
	c.Assert(s.Phase(), qt.Equals, Empty)
}

func TestSelectorStale(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newTestSelector(c, &fakeSource{})
	batch := Batch{Records: testRecords()}

	t1, load, err := s.Begin(State{"chr1", 1000, 1100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(load, qt.IsTrue)
	c.Assert(s.Phase(), qt.Equals, Loading)

	// Covered by the pending load
	t1b, load, err := s.Begin(State{"chr1", 1010, 1110, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(load, qt.IsFalse)
	c.Assert(t1b, qt.Equals, t1)

	t2, load, err := s.Begin(State{"chr1", 8000, 8100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(load, qt.IsTrue)

	_, err = s.Complete(ctx, t1, batch, nil)
	var serr *StaleResultError
	c.Assert(err, qt.ErrorAs, &serr)
	c.Assert(serr.Generation, qt.Equals, t1.Generation)
	c.Assert(serr.Current, qt.Equals, t2.Generation)
	c.Assert(s.Snapshot().Phase, qt.Equals, Empty)

	snap, err := s.Complete(ctx, t2, batch, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(snap.Generation, qt.Equals, t2.Generation)
	c.Assert(s.Phase(), qt.Equals, Loaded)

	// Moving back inside the current window supersedes a pending load
	t3, load, err := s.Begin(State{"chr1", 20000, 20100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(load, qt.IsTrue)
	_, load, err = s.Begin(State{"chr1", 8000, 8100, 100})
	c.Assert(err, qt.IsNil)
	c.Assert(load, qt.IsFalse)
	_, err = s.Complete(ctx, t3, batch, errors.New("late"))
	c.Assert(err, qt.ErrorAs, &serr)
	c.Assert(s.Snapshot(), qt.Equals, snap)
}

func TestSelectorConcurrentReads(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newTestSelector(c, &fakeSource{records: testRecords()})

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				if snap.Phase != Loaded {
					continue
				}
				c.Check(snap.Window.Contains(snap.State.Region()), qt.IsTrue)
				c.Check(snap.Coverage, qt.HasLen, (snap.Window.Len()+snap.Resolution-1)/snap.Resolution)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		start := (i * 397) % 3000
		_, err := s.Update(ctx, State{"chr1", start, start + 100 + i*10, 100})
		c.Assert(err, qt.IsNil, qt.Commentf("update %d", i))
	}
	close(done)
	wg.Wait()
}

func ExampleSelector() {
	src := &fakeSource{records: testRecords()}
	s, _ := NewSelector(src, DefaultConfig())
	snap, _ := s.Update(context.Background(), State{"chr1", 1000, 1100, 100})
	fmt.Println(snap.Phase, snap.Resolution, snap.Window, snap.Reads.Rows)
	// Output: loaded 1 [950,1150) 2
}
