//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package viewport selects the level of detail and the buffered load window of a genomic view and
// decides when the pileup and layout passes must be re-run.
package viewport

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"
)

// State is the visible part of a chromosome, drawn over PixelWidth pixels. It is replaced as a
// whole on every pan or zoom.
type State struct {
	Chrom      string `json:"chrom"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	PixelWidth int    `json:"pixel_width"`
}

type InvalidViewportError struct {
	State  State
	Reason string
}

func (e *InvalidViewportError) Error() string {
	return fmt.Sprintf("invalid viewport %s:%d-%d (%d px): %s", e.State.Chrom, e.State.Start, e.State.End, e.State.PixelWidth, e.Reason)
}

func (s State) Validate() error {
	if s.Chrom == "" {
		return &InvalidViewportError{State: s, Reason: "empty chromosome"}
	}
	if err := s.Region().Validate(); err != nil {
		return &InvalidViewportError{State: s, Reason: err.Error()}
	}
	if s.PixelWidth <= 0 {
		return &InvalidViewportError{State: s, Reason: "pixel width must be positive"}
	}
	return nil
}

func (s State) Region() pileup.Region {
	return pileup.Region{Start: s.Start, End: s.End}
}

func (s State) BpPerPixel() float64 {
	return float64(s.End-s.Start) / float64(s.PixelWidth)
}

func (s State) String() string {
	return fmt.Sprintf("%s:%d-%d", s.Chrom, s.Start, s.End)
}

// ParseState parses "chrom:start-end" (0-based, half-open).
func ParseState(raw string, pixelWidth int) (State, error) {
	i := strings.LastIndexByte(raw, ':')
	if i <= 0 {
		return State{}, fmt.Errorf("parsing region %q: missing chromosome", raw)
	}
	coords := strings.SplitN(raw[i+1:], "-", 2)
	if len(coords) != 2 {
		return State{}, fmt.Errorf("parsing region %q: expected start-end", raw)
	}
	start, err := strconv.Atoi(coords[0])
	if err != nil {
		return State{}, fmt.Errorf("parsing start of %q: %w", raw, err)
	}
	end, err := strconv.Atoi(coords[1])
	if err != nil {
		return State{}, fmt.Errorf("parsing end of %q: %w", raw, err)
	}
	s := State{Chrom: raw[:i], Start: start, End: end, PixelWidth: pixelWidth}
	return s, s.Validate()
}

type Config struct {
	// Bin sizes in bp, ascending
	Ladder []int
	// Maximum number of bins drawn over the visible region
	TargetBins int
	// Fraction of the visible span added on each side of the load window
	BufferFraction float64
	// Gap between two intervals sharing a row
	Gap int
	// Reads are packed only at resolutions up to MaxPackResolution
	MaxPackResolution int
	// Moving-average window applied to signal
	SmoothWindow int
	// Pileup workers
	Workers int
	Pileup  pileup.Options
	// Optional chromosome lengths to clamp load windows
	ChromSizes map[string]int
}

func DefaultConfig() Config {
	return Config{
		Ladder:            []int{1, 10, 100, 1000, 10000, 100000, 1000000},
		TargetBins:        2000,
		BufferFraction:    0.5,
		Gap:               2,
		MaxPackResolution: 10,
		Workers:           1,
	}
}

func (cfg Config) Validate() error {
	if len(cfg.Ladder) == 0 {
		return fmt.Errorf("empty resolution ladder")
	}
	for i, r := range cfg.Ladder {
		if r < 1 || (i > 0 && r <= cfg.Ladder[i-1]) {
			return fmt.Errorf("resolution ladder %v must be positive and strictly ascending", cfg.Ladder)
		}
	}
	if cfg.TargetBins < 1 {
		return fmt.Errorf("invalid target bin count %d", cfg.TargetBins)
	}
	if cfg.BufferFraction < 0 || math.IsNaN(cfg.BufferFraction) {
		return fmt.Errorf("invalid buffer fraction %v", cfg.BufferFraction)
	}
	if cfg.Gap < 0 {
		return fmt.Errorf("negative gap %d", cfg.Gap)
	}
	if cfg.SmoothWindow < 0 {
		return &pileup.InvalidWindowSizeError{Size: cfg.SmoothWindow}
	}
	return nil
}

// SelectResolution returns the smallest bin size of the ladder drawing the visible region with at
// most min(TargetBins, PixelWidth) bins, or the largest bin size of the ladder.
func SelectResolution(s State, cfg Config) int {
	maxBins := min(cfg.TargetBins, s.PixelWidth)
	span := s.End - s.Start
	for _, r := range cfg.Ladder {
		if (span+r-1)/r <= maxBins {
			return r
		}
	}
	return cfg.Ladder[len(cfg.Ladder)-1]
}

// LoadWindow expands the visible region by BufferFraction of its span on each side and aligns it
// on multiples of resolution. The window is clamped to [0, chromosome length).
func LoadWindow(s State, resolution int, cfg Config) pileup.Region {
	pad := int(math.Ceil(float64(s.End-s.Start) * cfg.BufferFraction))
	start := max(0, s.Start-pad)
	end := s.End + pad
	start = start / resolution * resolution
	end = (end + resolution - 1) / resolution * resolution
	if size, ok := cfg.ChromSizes[s.Chrom]; ok && size >= s.End {
		end = min(end, size)
	}
	return pileup.Region{Start: start, End: end}
}
