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
)

// Sample is a value of a continuous signal over [Start,End).
type Sample struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Value float64 `json:"value"`
}

type InvalidWindowSizeError struct {
	Size int
}

func (e *InvalidWindowSizeError) Error() string {
	return fmt.Sprintf("invalid smoothing window size %d", e.Size)
}

// Smooth returns a moving average of samples: value i is the mean of the values in
// [i-windowSize/2, i+windowSize/2] clamped to the array bounds. Values are averaged regardless of
// the width of each sample. A windowSize of 0 or 1 returns a copy of samples.
func Smooth(samples []Sample, windowSize int) ([]Sample, error) {
	if windowSize < 0 {
		return nil, &InvalidWindowSizeError{Size: windowSize}
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	if windowSize <= 1 {
		return out, nil
	}
	halfWindow := windowSize / 2
	for i := range samples {
		from := max(0, i-halfWindow)
		to := min(len(samples)-1, i+halfWindow)
		var sum float64
		for j := from; j <= to; j++ {
			sum += samples[j].Value
		}
		out[i].Value = sum / float64(to-from+1)
	}
	return out, nil
}

// Summarize returns one sample per bin of size bp (aligned on multiples of size, clipped to region)
// with the mean value of the covered bases. Bins without any sample are omitted. Samples must be
// sorted by Start and must not overlap.
func Summarize(samples []Sample, region Region, size int) ([]Sample, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, &InvalidWindowSizeError{Size: size}
	}
	var out []Sample
	j := 0
	for binStart := floorDiv(region.Start, size) * size; binStart < region.End; binStart += size {
		bin := Region{Start: max(binStart, region.Start), End: min(binStart+size, region.End)}
		for j < len(samples) && samples[j].End <= bin.Start {
			j++
		}
		var sum float64
		var covered int
		for k := j; k < len(samples) && samples[k].Start < bin.End; k++ {
			if o := min(samples[k].End, bin.End) - max(samples[k].Start, bin.Start); o > 0 {
				sum += samples[k].Value * float64(o)
				covered += o
			}
		}
		if covered > 0 {
			out = append(out, Sample{Start: bin.Start, End: bin.End, Value: sum / float64(covered)})
		}
	}
	return out, nil
}

// ClipSamples returns the samples overlapping region, in order.
func ClipSamples(samples []Sample, region Region) []Sample {
	var out []Sample
	for _, s := range samples {
		if s.End > region.Start && s.Start < region.End {
			out = append(out, s)
		}
	}
	return out
}
