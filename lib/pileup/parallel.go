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

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"

	"golang.org/x/sync/errgroup"
)

// Minimum number of records per shard
const minShardLength = 1000

// AggregateParallel shards records across nWorker workers, aggregates each shard with Aggregate
// and merges the partial bins. The output is identical to Aggregate on the same input.
func AggregateParallel(ctx context.Context, records []esam.Record, region Region, opts Options, nWorker int) (Result, error) {
	if err := region.Validate(); err != nil {
		return Result{}, err
	}
	nShard := min(nWorker, (len(records)+minShardLength-1)/minShardLength)
	if nShard <= 1 {
		return Aggregate(records, region, opts)
	}
	shardLength := (len(records) + nShard - 1) / nShard
	results := make([]Result, nShard)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < nShard; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			start := i * shardLength
			end := min(start+shardLength, len(records))
			res, err := Aggregate(records[start:end], region, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Combine data from workers, shard order keeps errors deterministic
	parts := make([][]Bin, nShard)
	final := Result{Region: region}
	for i, res := range results {
		parts[i] = res.Bins
		final.Errors = append(final.Errors, res.Errors...)
	}
	bins, err := Merge(parts...)
	if err != nil {
		return Result{}, err
	}
	final.Bins = bins
	return final, nil
}

// Maximum number of per-base bins materialized at once by AggregateBinned
var maxChunkLength = 1 << 20

// AggregateBinned aggregates region into bins of size bp aligned on multiples of size (see Rebin).
// The region is processed in chunks so memory stays bounded for large regions. A record dropped
// in several chunks is reported once.
func AggregateBinned(ctx context.Context, records []esam.Record, region Region, opts Options, size int, nWorker int) (Result, error) {
	if err := region.Validate(); err != nil {
		return Result{}, err
	}
	size = max(size, 1)
	chunkLength := max(size, maxChunkLength/size*size)
	final := Result{Region: region}
	dropped := make(map[string]bool)
	for start := region.Start; start < region.End; {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		chunk := Region{Start: start, End: min(floorDiv(start, size)*size+chunkLength, region.End)}
		res, err := AggregateParallel(ctx, records, chunk, opts, nWorker)
		if err != nil {
			return Result{}, err
		}
		final.Bins = append(final.Bins, Rebin(res.Bins, size)...)
		for _, e := range res.Errors {
			if !dropped[e.ID] {
				dropped[e.ID] = true
				final.Errors = append(final.Errors, e)
			}
		}
		start = chunk.End
	}
	return final, nil
}
