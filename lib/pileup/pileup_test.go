//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package pileup

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"git.sr.ht/~vejnar/GeneTrack/lib/cigar"
	"git.sr.ht/~vejnar/GeneTrack/lib/esam"

	qt "github.com/frankban/quicktest"
)

func read(id string, start int, c string, strand esam.Strand) esam.Record {
	ops, err := cigar.Decode(c, start)
	if err != nil {
		panic(err)
	}
	_, end := cigar.Span(ops)
	return esam.Record{ID: id, Name: id, Chrom: "chr1", Start: start, End: end, Strand: strand, MapQ: 60, Cigar: c}
}

func checkInvariants(c *qt.C, bins []Bin) {
	for _, b := range bins {
		c.Assert(b.Depth, qt.Equals, b.Forward+b.Reverse, qt.Commentf("bin %v", b))
		for _, n := range b.Bases {
			c.Assert(b.Depth >= n, qt.IsTrue, qt.Commentf("bin %v", b))
		}
	}
}

func TestAggregateSingleMatch(t *testing.T) {
	c := qt.New(t)
	res, err := Aggregate([]esam.Record{read("r1", 100, "50M", esam.Forward)}, Region{0, 200}, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Bins, qt.HasLen, 200)
	c.Assert(res.Errors, qt.HasLen, 0)
	for _, b := range res.Bins {
		want := 0
		if b.Start >= 100 && b.Start < 150 {
			want = 1
		}
		c.Assert(b.Depth, qt.Equals, want, qt.Commentf("position %d", b.Start))
		c.Assert(b.Forward, qt.Equals, want)
		c.Assert(b.End, qt.Equals, b.Start+1)
	}
}

func TestAggregateOperations(t *testing.T) {
	c := qt.New(t)
	r := read("r1", 10, "2S3M2I1D2M3N2M1H", esam.Reverse)
	r.Seq = "GGACGTTAAGC"
	res, err := Aggregate([]esam.Record{r}, Region{10, 25}, Options{})
	c.Assert(err, qt.IsNil)
	checkInvariants(c, res.Bins)
	var depths []int
	for _, b := range res.Bins {
		depths = append(depths, b.Depth)
	}
	// 3M at 10, 1D at 13, 2M at 14, 3N at 16, 2M at 19
	c.Assert(depths, qt.DeepEquals, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0})
	c.Assert(res.Bins[0].Bases, qt.DeepEquals, [5]int{1, 0, 0, 0, 0})
	c.Assert(res.Bins[1].Bases, qt.DeepEquals, [5]int{0, 1, 0, 0, 0})
	c.Assert(res.Bins[2].Bases, qt.DeepEquals, [5]int{0, 0, 1, 0, 0})
	// Deletion adds depth without base
	c.Assert(res.Bins[3].Bases, qt.DeepEquals, [5]int{})
	c.Assert(res.Bins[4].Bases, qt.DeepEquals, [5]int{1, 0, 0, 0, 0})
	c.Assert(res.Bins[9].Bases, qt.DeepEquals, [5]int{0, 0, 1, 0, 0})
	c.Assert(res.Bins[10].Bases, qt.DeepEquals, [5]int{0, 1, 0, 0, 0})
	c.Assert(res.Bins[0].Reverse, qt.Equals, 1)

	res, err = Aggregate([]esam.Record{r}, Region{10, 25}, Options{ExcludeSkips: true})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Bins[6].Depth, qt.Equals, 0)
	c.Assert(res.Bins[9].Depth, qt.Equals, 1)
}

func TestAggregateClipsToRegion(t *testing.T) {
	c := qt.New(t)
	records := []esam.Record{
		read("a", 90, "20M", esam.Forward),
		read("b", 105, "20M", esam.Reverse),
		read("c", 500, "20M", esam.Reverse),
	}
	res, err := Aggregate(records, Region{100, 110}, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Bins, qt.HasLen, 10)
	c.Assert(res.Bins[0].Depth, qt.Equals, 1)
	c.Assert(res.Bins[5].Depth, qt.Equals, 2)
	c.Assert(res.Bins[9].Forward, qt.Equals, 1)
	c.Assert(res.Bins[9].Reverse, qt.Equals, 1)
}

func TestAggregateDropsBadRecords(t *testing.T) {
	c := qt.New(t)
	bad := read("bad", 100, "10M", esam.Forward)
	bad.Cigar = "10M0I"
	res, err := Aggregate([]esam.Record{bad, read("ok", 100, "10M", esam.Forward)}, Region{100, 110}, Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Errors, qt.HasLen, 1)
	c.Assert(res.Errors[0].ID, qt.Equals, "bad")
	var merr *cigar.MalformedCigarError
	c.Assert(res.Errors[0], qt.ErrorAs, &merr)
	c.Assert(res.Bins[0].Depth, qt.Equals, 1)
}

func TestAggregateSpanMismatch(t *testing.T) {
	c := qt.New(t)
	r := esam.Record{ID: "r1", Name: "r1", Chrom: "chr1", Start: 100, End: 110, Strand: esam.Forward, MapQ: 60, Cigar: "50M"}
	for _, region := range []Region{{100, 200}, {105, 130}, {120, 200}} {
		res, err := Aggregate([]esam.Record{r}, region, Options{})
		c.Assert(err, qt.IsNil)
		for _, b := range res.Bins {
			c.Assert(b.Depth, qt.Equals, 0, qt.Commentf("region %s position %d", region, b.Start))
		}
		if region.Start < r.End {
			c.Assert(res.Errors, qt.HasLen, 1)
			c.Assert(res.Errors[0], qt.ErrorMatches, `record r1: cigar span \[100,150\) does not match interval \[100,110\)`)
		} else {
			c.Assert(res.Errors, qt.HasLen, 0)
		}
	}

	res, err := AggregateBinned(context.Background(), []esam.Record{r}, Region{100, 200}, Options{}, 10, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Errors, qt.HasLen, 1)
	for _, b := range res.Bins {
		c.Assert(b.Depth, qt.Equals, 0)
	}
}

func TestAggregateInvalidRegion(t *testing.T) {
	c := qt.New(t)
	for _, r := range []Region{{10, 10}, {20, 10}, {-1, 10}} {
		_, err := Aggregate(nil, r, Options{})
		var rerr *InvalidRegionError
		c.Assert(err, qt.ErrorAs, &rerr)
	}
}

func randomRecords(n int) []esam.Record {
	rnd := rand.New(rand.NewSource(1))
	cigars := []string{"50M", "10S40M", "20M100N30M", "25M2D25M", "5H20M3I27M"}
	records := make([]esam.Record, n)
	for i := range records {
		strand := esam.Forward
		if rnd.Intn(2) == 1 {
			strand = esam.Reverse
		}
		records[i] = read(fmt.Sprintf("r%d", i), rnd.Intn(2000), cigars[rnd.Intn(len(cigars))], strand)
	}
	records[17] = read("r17", 500, "50M", esam.Forward)
	records[17].Cigar = "bad"
	records[4021] = read("r4021", 900, "50M", esam.Reverse)
	records[4021].Cigar = "0M"
	return records
}

func TestAggregateParallel(t *testing.T) {
	c := qt.New(t)
	records := randomRecords(5000)
	region := Region{200, 1800}
	want, err := Aggregate(records, region, Options{})
	c.Assert(err, qt.IsNil)
	for _, nWorker := range []int{1, 2, 3, 8} {
		got, err := AggregateParallel(context.Background(), records, region, Options{}, nWorker)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Bins, qt.DeepEquals, want.Bins)
		c.Assert(got.Errors, qt.HasLen, 2)
		c.Assert(got.Errors[0].ID, qt.Equals, "r17")
		c.Assert(got.Errors[1].ID, qt.Equals, "r4021")
	}
	checkInvariants(c, want.Bins)
}

func TestAggregateParallelCanceled(t *testing.T) {
	c := qt.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AggregateParallel(ctx, randomRecords(5000), Region{0, 100}, Options{}, 4)
	c.Assert(err, qt.Equals, context.Canceled)
}

func TestMerge(t *testing.T) {
	c := qt.New(t)
	a := []Bin{{Start: 0, End: 1, Depth: 2, Forward: 1, Reverse: 1, Bases: [5]int{1, 1, 0, 0, 0}}}
	b := []Bin{{Start: 0, End: 1, Depth: 1, Forward: 1, Bases: [5]int{0, 0, 0, 1, 0}}}
	merged, err := Merge(a, b)
	c.Assert(err, qt.IsNil)
	c.Assert(merged, qt.DeepEquals, []Bin{{Start: 0, End: 1, Depth: 3, Forward: 2, Reverse: 1, Bases: [5]int{1, 1, 0, 1, 0}}})
	// Inputs are not modified
	c.Assert(a[0].Depth, qt.Equals, 2)
	// Commutative
	merged2, err := Merge(b, a)
	c.Assert(err, qt.IsNil)
	c.Assert(merged2, qt.DeepEquals, merged)

	_, err = Merge(a, []Bin{{Start: 1, End: 2}})
	c.Assert(err, qt.ErrorMatches, `part 1 bin 0 \[1,2\) does not match \[0,1\)`)
	_, err = Merge(a, nil)
	c.Assert(err, qt.ErrorMatches, "part 1 has 0 bins, expected 1")
}

func TestRebin(t *testing.T) {
	c := qt.New(t)
	res, err := Aggregate([]esam.Record{read("a", 5, "20M", esam.Forward), read("b", 12, "10M", esam.Reverse)}, Region{3, 27}, Options{})
	c.Assert(err, qt.IsNil)
	bins := Rebin(res.Bins, 10)
	c.Assert(bins, qt.HasLen, 3)
	c.Assert(bins[0].Start, qt.Equals, 3)
	c.Assert(bins[0].End, qt.Equals, 10)
	c.Assert(bins[0].Depth, qt.Equals, 5)
	c.Assert(bins[1].Start, qt.Equals, 10)
	c.Assert(bins[1].End, qt.Equals, 20)
	c.Assert(bins[1].Depth, qt.Equals, 18)
	c.Assert(bins[1].Reverse, qt.Equals, 8)
	c.Assert(bins[1].Mean(), qt.Equals, 1.8)
	c.Assert(bins[2].End, qt.Equals, 27)
	c.Assert(bins[2].Depth, qt.Equals, 7)
	checkInvariants(c, bins)

	same := Rebin(res.Bins, 1)
	c.Assert(same, qt.DeepEquals, res.Bins)
	same[0].Depth = 100
	c.Assert(res.Bins[0].Depth, qt.Equals, 0)
}

func TestAggregateBinned(t *testing.T) {
	c := qt.New(t)
	defer func(n int) { maxChunkLength = n }(maxChunkLength)
	maxChunkLength = 50

	records := randomRecords(5000)
	region := Region{203, 1797}
	ref, err := Aggregate(records, region, Options{})
	c.Assert(err, qt.IsNil)
	for _, size := range []int{1, 7, 100} {
		got, err := AggregateBinned(context.Background(), records, region, Options{}, size, 3)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Bins, qt.DeepEquals, Rebin(ref.Bins, size), qt.Commentf("size %d", size))
		c.Assert(got.Errors, qt.HasLen, 2)
		c.Assert(got.Errors[0].ID, qt.Equals, "r17")
		c.Assert(got.Errors[1].ID, qt.Equals, "r4021")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = AggregateBinned(ctx, records, region, Options{}, 10, 1)
	c.Assert(err, qt.Equals, context.Canceled)
}
