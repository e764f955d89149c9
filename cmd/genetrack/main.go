//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
	"git.sr.ht/~vejnar/GeneTrack/lib/feature"
	"git.sr.ht/~vejnar/GeneTrack/lib/layout"
	"git.sr.ht/~vejnar/GeneTrack/lib/output"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"
	"git.sr.ht/~vejnar/GeneTrack/lib/viewport"

	log "github.com/sirupsen/logrus"
)

var version = "DEV"

type Lanes struct {
	Region     string            `json:"region"`
	Resolution int               `json:"resolution"`
	Packed     bool              `json:"packed"`
	Rows       int               `json:"rows"`
	Reads      []viewport.Read   `json:"reads"`
	Arcs       layout.Layout     `json:"arcs"`
	Junctions  []pileup.Junction `json:"junctions"`
}

// unindexed returns the states whose chromosome has no indexed alignment. chroms must be sorted.
func unindexed(chroms []string, states []viewport.State) (missing []viewport.State) {
	for _, s := range states {
		if i := sort.SearchStrings(chroms, s.Chrom); i == len(chroms) || chroms[i] != s.Chrom {
			missing = append(missing, s)
		}
	}
	return
}

func splitPaths(raw string, binary bool) (paths []esam.PathSAM) {
	if len(raw) == 0 {
		return
	}
	for _, p := range strings.Split(raw, ",") {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			log.Fatalln(p, "not found")
		}
		paths = append(paths, esam.PathSAM{Path: p, Binary: binary})
	}
	return
}

func parseLadder(raw string) (ladder []int, err error) {
	for _, s := range strings.Split(raw, ",") {
		r, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parsing resolution %q: %w", s, err)
		}
		ladder = append(ladder, r)
	}
	return
}

func visibleBins(bins []pileup.Bin, region pileup.Region) []pileup.Bin {
	var out []pileup.Bin
	for _, b := range bins {
		if b.End > region.Start && b.Start < region.End {
			out = append(out, b)
		}
	}
	return out
}

func main() {
	// Arguments: General
	var pathReport string
	var nWorker, verboseLevel int
	var appendOutput, verbose, printVersion bool
	flag.StringVar(&pathReport, "path_report", "", "Write report to path (stdout with -)")
	flag.IntVar(&nWorker, "num_worker", 1, "Number of worker(s)")
	flag.IntVar(&verboseLevel, "verbose_level", 0, "Verbose level")
	flag.BoolVar(&appendOutput, "append", false, "Append to outputs (default create)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose")
	flag.BoolVar(&printVersion, "version", false, "Print version and quit")
	// Arguments: Input
	var pathSAMsRaw, pathBAMsRaw, rawSAMCmdIn, pathBedGraph string
	flag.StringVar(&pathSAMsRaw, "path_sam", "", "Path to SAM file(s) (comma separated)")
	flag.StringVar(&pathBAMsRaw, "path_bam", "", "Path to BAM file(s) (comma separated)")
	flag.StringVar(&rawSAMCmdIn, "sam_command_in", "", "Command line to execute for opening each of the SAM file")
	flag.StringVar(&pathBedGraph, "path_bedgraph", "", "Path to signal in bedGraph (.gz, .zst or .lz4 accepted)")
	// Arguments: Read selection
	var minMappingQualityRaw int
	var keepSecondary, keepSupplementary, keepDuplicate, keepQCFail bool
	flag.IntVar(&minMappingQualityRaw, "read_min_mapping_quality", 0, "Minimum read mapping quality")
	flag.BoolVar(&keepSecondary, "keep_secondary", false, "Keep secondary alignments")
	flag.BoolVar(&keepSupplementary, "keep_supplementary", false, "Keep supplementary alignments")
	flag.BoolVar(&keepDuplicate, "keep_duplicate", false, "Keep PCR or optical duplicates")
	flag.BoolVar(&keepQCFail, "keep_qcfail", false, "Keep reads failing quality checks")
	// Arguments: View
	var regionsRaw, ladderRaw string
	var pixelWidth, targetBins, gap, packMaxResolution, smoothWindow int
	var bufferFraction float64
	var excludeSkips bool
	cfg := viewport.DefaultConfig()
	flag.StringVar(&regionsRaw, "regions", "", "Region(s) to view as chrom:start-end, 0-based half-open (comma separated)")
	flag.IntVar(&pixelWidth, "pixel_width", 1000, "Width of the view in pixels")
	flag.IntVar(&targetBins, "target_bins", cfg.TargetBins, "Maximum number of bins over the view")
	flag.StringVar(&ladderRaw, "resolutions", "1,10,100,1000,10000,100000,1000000", "Bin sizes in bp (comma separated, ascending)")
	flag.Float64Var(&bufferFraction, "buffer_fraction", cfg.BufferFraction, "Fraction of the view loaded on each side")
	flag.IntVar(&gap, "gap", cfg.Gap, "Minimum gap between reads of a row")
	flag.IntVar(&packMaxResolution, "pack_max_resolution", cfg.MaxPackResolution, "Maximum bin size to pack reads")
	flag.IntVar(&smoothWindow, "smooth_window", cfg.SmoothWindow, "Moving average window on signal (in samples)")
	flag.BoolVar(&excludeSkips, "exclude_skips", false, "Skipped regions (N) do not add depth")
	// Arguments: Output
	var coveragePath, coverageFormat, signalPath, signalFormat, lanesPath string
	flag.StringVar(&coveragePath, "coverage_path", "coverage.bedgraph", "Path to coverage output")
	flag.StringVar(&coverageFormat, "coverage_format", "bedgraph", "Coverage output format: 'bedgraph', 'binary' or 'csv' with optional '+lz4', '+lz4hc', '+gz' or '+zst'")
	flag.StringVar(&signalPath, "signal_path", "signal.bedgraph", "Path to smoothed signal output (bedGraph)")
	flag.StringVar(&signalFormat, "signal_format", "bedgraph", "Signal output format: 'bedgraph' with optional compression")
	flag.StringVar(&lanesPath, "lanes_path", "", "Path to read and junction lanes output (JSON)")
	// Arguments: Parse
	flag.Parse()

	// Version
	if printVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Verbose
	if verbose && verboseLevel == 0 {
		verboseLevel = 1
	}
	switch {
	case verboseLevel >= 2:
		log.SetLevel(log.DebugLevel)
	case verboseLevel == 1:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	// Max CPU
	if nWorker < 1 {
		nWorker = 1
	}
	runtime.GOMAXPROCS(nWorker * 2)

	timeStart := time.Now()

	// Check arguments
	pathSAMs := append(splitPaths(pathSAMsRaw, false), splitPaths(pathBAMsRaw, true)...)
	if len(pathSAMs) == 0 && len(pathBedGraph) == 0 {
		log.Fatal("No SAM/BAM or bedGraph input")
	}
	if len(regionsRaw) == 0 {
		log.Fatal("No region")
	}
	var states []viewport.State
	for _, raw := range strings.Split(regionsRaw, ",") {
		s, err := viewport.ParseState(raw, pixelWidth)
		if err != nil {
			log.Fatal(err)
		}
		states = append(states, s)
	}
	if minMappingQualityRaw < 0 || minMappingQualityRaw > 255 {
		log.Fatalf("Invalid minimum mapping quality %d", minMappingQualityRaw)
	}
	var SAMCmdIn []string
	if len(rawSAMCmdIn) > 0 {
		SAMCmdIn = strings.Fields(rawSAMCmdIn)
	}
	var err error
	if cfg.Ladder, err = parseLadder(ladderRaw); err != nil {
		log.Fatal(err)
	}
	cfg.TargetBins = targetBins
	cfg.BufferFraction = bufferFraction
	cfg.Gap = gap
	cfg.MaxPackResolution = packMaxResolution
	cfg.SmoothWindow = smoothWindow
	cfg.Workers = nWorker
	cfg.Pileup = pileup.Options{ExcludeSkips: excludeSkips}

	report := &Report{}
	src := &trackSource{}
	ctx := context.Background()

	// Alignments
	if len(pathSAMs) > 0 {
		filter := esam.Filter{
			MinMappingQuality: byte(minMappingQualityRaw),
			KeepSecondary:     keepSecondary,
			KeepSupplementary: keepSupplementary,
			KeepDuplicate:     keepDuplicate,
			KeepQCFail:        keepQCFail,
		}
		loaded, err := LoadSAM(ctx, pathSAMs, SAMCmdIn, filter, nWorker, timeStart)
		if err != nil {
			log.Fatal(err)
		}
		cfg.ChromSizes = loaded.ChromSizes
		src.index = feature.BuildReadIndex(loaded.Records)
		for _, e := range src.index.Errors {
			log.Debug(e)
		}
		report.AlignRead = loaded.NRead
		report.AlignKept = len(loaded.Records)
		report.AlignUnique = loaded.Names.Size()
		report.Indexed = src.index.Len()
		report.Dropped += len(src.index.Errors)
		log.Infof("%.1fmin - Indexed %d of %d alignment(s)", time.Since(timeStart).Minutes(), report.Indexed, report.AlignRead)
		chroms := src.index.Chroms()
		log.Debugf("Indexed chromosome(s): %s", strings.Join(chroms, " "))
		for _, s := range unindexed(chroms, states) {
			log.Warnf("%s: no alignment on %s", s, s.Chrom)
		}
	}

	// Signal
	if len(pathBedGraph) > 0 {
		log.Infof("%.1fmin - Opening %s", time.Since(timeStart).Minutes(), pathBedGraph)
		if src.samples, err = ReadBedGraph(pathBedGraph); err != nil {
			log.Fatal(err)
		}
	}

	selector, err := viewport.NewSelector(src, cfg)
	if err != nil {
		log.Fatal(err)
	}

	// Outputs
	format, zip := output.SplitFormat(coverageFormat)
	fCoverage, err := output.Create(coveragePath, zip, appendOutput)
	if err != nil {
		log.Fatal(err)
	}
	var fSignal, fLanes *output.File
	if len(pathBedGraph) > 0 {
		sformat, szip := output.SplitFormat(signalFormat)
		if sformat != "bedgraph" {
			log.Fatalf("Unknown signal format %q", sformat)
		}
		if fSignal, err = output.Create(signalPath, szip, appendOutput); err != nil {
			log.Fatal(err)
		}
	}
	if len(lanesPath) > 0 {
		if fLanes, err = output.Create(lanesPath, "", appendOutput); err != nil {
			log.Fatal(err)
		}
	}

	// Views
	var previous *viewport.Snapshot
	for _, state := range states {
		snap, err := selector.Update(ctx, state)
		if err != nil {
			log.Warnf("%s: %v", state, err)
			report.Add(state, nil, false, err)
			continue
		}
		cacheHit := snap == previous
		previous = snap
		report.Add(state, snap, cacheHit, nil)
		log.Infof("%.1fmin - %s at %d bp (window %s, %d row(s), %d dropped)", time.Since(timeStart).Minutes(), state, snap.Resolution, snap.Window, snap.Reads.Rows, len(snap.Errors))
		for _, e := range snap.Errors {
			log.Debug(e)
		}

		if err := output.WriteCoverage(fCoverage, format, state.Chrom, visibleBins(snap.Coverage, state.Region())); err != nil {
			log.Fatal(err)
		}
		if fSignal != nil {
			if err := output.WriteSignalBedGraph(fSignal, state.Chrom, pileup.ClipSamples(snap.Signal, state.Region())); err != nil {
				log.Fatal(err)
			}
		}
		if fLanes != nil {
			lanes := Lanes{Region: state.String(), Resolution: snap.Resolution, Packed: snap.Packed, Rows: snap.Reads.Rows, Reads: snap.Lanes, Arcs: snap.Arcs, Junctions: snap.Junctions}
			if err := output.WriteJSON(fLanes, lanes); err != nil {
				log.Fatal(err)
			}
		}
	}

	for _, f := range []*output.File{fCoverage, fSignal, fLanes} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			log.Fatal(err)
		}
	}

	// Report
	if len(pathReport) > 0 {
		if err := WriteReport(pathReport, report); err != nil {
			log.Fatal(err)
		}
	}

	log.Infof("%.1fmin - Done", time.Since(timeStart).Minutes())
}
