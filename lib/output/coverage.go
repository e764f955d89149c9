//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package output

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/adler32"
	"io"
	"math"
	"strconv"

	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"
)

const (
	bedGraphPrecision = 0.000001
	binaryVersion     = 1
)

// stepWriter merges adjacent steps of equal value into bedGraph lines. Zero steps are not written.
type stepWriter struct {
	w          *bufio.Writer
	chrom      string
	start, end int
	value      float64
	open       bool
}

func (s *stepWriter) add(start, end int, value float64) {
	if s.open && start == s.end && math.Abs(value-s.value) <= bedGraphPrecision {
		s.end = end
		return
	}
	s.flush()
	s.start, s.end, s.value, s.open = start, end, value, true
}

func (s *stepWriter) flush() {
	if s.open && s.value != 0. {
		fmt.Fprintf(s.w, "%s\t%d\t%d\t%s\n", s.chrom, s.start, s.end, strconv.FormatFloat(s.value, 'f', -1, 64))
	}
	s.open = false
}

// WriteCoverageBedGraph writes the mean depth of bins as bedGraph.
func WriteCoverageBedGraph(w io.Writer, chrom string, bins []pileup.Bin) error {
	s := stepWriter{w: bufio.NewWriter(w), chrom: chrom}
	for _, b := range bins {
		s.add(b.Start, b.End, b.Mean())
	}
	s.flush()
	return s.w.Flush()
}

// WriteSignalBedGraph writes samples as bedGraph.
func WriteSignalBedGraph(w io.Writer, chrom string, samples []pileup.Sample) error {
	s := stepWriter{w: bufio.NewWriter(w), chrom: chrom}
	for _, sp := range samples {
		s.add(sp.Start, sp.End, sp.Value)
	}
	s.flush()
	return s.w.Flush()
}

// WriteCoverageCSV writes one line per bin with strand and base counts.
func WriteCoverageCSV(w io.Writer, chrom string, bins []pileup.Bin) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("\"chrom\",\"start\",\"end\",\"depth\",\"forward\",\"reverse\",\"A\",\"C\",\"G\",\"T\",\"N\"\n")
	for _, b := range bins {
		fmt.Fprintf(bw, "\"%s\",%d,%d,%d,%d,%d", chrom, b.Start, b.End, b.Depth, b.Forward, b.Reverse)
		for _, n := range b.Bases {
			bw.WriteString(",")
			bw.WriteString(strconv.Itoa(n))
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// WriteCoverageBinary writes a version byte, the number of bins, the adler32 checksum of the bin
// boundaries and the mean depth of each bin as float32, all little-endian.
func WriteCoverageBinary(w io.Writer, bins []pileup.Bin) error {
	// Version
	var version uint8 = binaryVersion
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return err
	}
	// Number of bins
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bins))); err != nil {
		return err
	}
	// Checksum
	if err := binary.Write(w, binary.LittleEndian, BinsChecksum(bins)); err != nil {
		return err
	}
	// Depths
	depths := make([]float32, len(bins))
	for i, b := range bins {
		depths[i] = float32(b.Mean())
	}
	return binary.Write(w, binary.LittleEndian, depths)
}

// BinsChecksum is the adler32 checksum of the little-endian uint32 boundaries of bins.
func BinsChecksum(bins []pileup.Bin) uint32 {
	bufChecksum := new(bytes.Buffer)
	for _, b := range bins {
		binary.Write(bufChecksum, binary.LittleEndian, [2]uint32{uint32(b.Start), uint32(b.End)})
	}
	return adler32.Checksum(bufChecksum.Bytes())
}

// WriteCoverage writes bins in format "bedgraph", "csv" or "binary".
func WriteCoverage(w io.Writer, format string, chrom string, bins []pileup.Bin) error {
	switch format {
	case "bedgraph":
		return WriteCoverageBedGraph(w, chrom, bins)
	case "csv":
		return WriteCoverageCSV(w, chrom, bins)
	case "binary":
		return WriteCoverageBinary(w, bins)
	}
	return fmt.Errorf("unknown coverage format %q", format)
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v any) error {
	report, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	report = append(report, '\n')
	_, err = w.Write(report)
	return err
}
