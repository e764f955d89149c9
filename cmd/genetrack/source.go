//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~vejnar/GeneTrack/lib/esam"
	"git.sr.ht/~vejnar/GeneTrack/lib/feature"
	"git.sr.ht/~vejnar/GeneTrack/lib/pileup"
	"git.sr.ht/~vejnar/GeneTrack/lib/viewport"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/pierrec/lz4"

	log "github.com/sirupsen/logrus"

	"golang.org/x/sync/errgroup"

	"gopkg.in/fatih/set.v0"
)

const batchLength = 1000

type samReader interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
}

// OpenSAM opens a SAM or BAM file. SAM files are piped through cmd if not empty.
func OpenSAM(pathSAM esam.PathSAM, cmd []string, nWorker1 int) (f *os.File, pp io.ReadCloser, rr samReader, err error) {
	if pathSAM.Binary {
		f, err = os.Open(pathSAM.Path)
		if err != nil {
			return f, pp, rr, err
		}
		rr, err = bam.NewReader(f, nWorker1)
	} else {
		if len(cmd) == 0 {
			f, err = os.Open(pathSAM.Path)
			if err != nil {
				return f, pp, rr, err
			}
			rr, err = sam.NewReader(f)
		} else {
			cmd = append(cmd[:len(cmd):len(cmd)], pathSAM.Path)
			p := exec.Command(cmd[0], cmd[1:]...)
			if pp, err = p.StdoutPipe(); err != nil {
				return f, pp, rr, err
			}
			if err = p.Start(); err != nil {
				return f, pp, rr, err
			}
			rr, err = sam.NewReader(pp)
		}
	}
	return f, pp, rr, err
}

// Loaded holds the records read from all inputs.
type Loaded struct {
	Records    []esam.Record
	ChromSizes map[string]int
	NRead      int
	Names      set.Interface
}

func readSAM(ctx context.Context, pathSAM esam.PathSAM, cmd []string, nWorker1 int, chromSizes map[string]int, chAln chan<- []*sam.Record) error {
	f, pp, rr, err := OpenSAM(pathSAM, cmd, nWorker1)
	if f != nil {
		defer f.Close()
	}
	if pp != nil {
		defer pp.Close()
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", pathSAM.Path, err)
	}
	if c, ok := rr.(io.Closer); ok {
		defer c.Close()
	}
	for _, ref := range rr.Header().Refs() {
		chromSizes[ref.Name()] = ref.Len()
	}
	batch := make([]*sam.Record, 0, batchLength)
	for {
		aread, err := rr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading %s: %w", pathSAM.Path, err)
		}
		batch = append(batch, aread)
		if len(batch) == batchLength {
			select {
			case chAln <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			batch = make([]*sam.Record, 0, batchLength)
		}
	}
	if len(batch) > 0 {
		select {
		case chAln <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LoadSAM reads all inputs in one goroutine and converts the alignments with nWorker workers.
// Records are returned sorted by chromosome, start and ID.
func LoadSAM(ctx context.Context, pathSAMs []esam.PathSAM, cmd []string, filter esam.Filter, nWorker int, timeStart time.Time) (*Loaded, error) {
	nWorker1 := max(1, nWorker/2)
	loaded := &Loaded{ChromSizes: make(map[string]int), Names: set.New(set.ThreadSafe)}

	g, gctx := errgroup.WithContext(ctx)
	chAln := make(chan []*sam.Record, nWorker*10)

	g.Go(func() error {
		defer close(chAln)
		for _, pathSAM := range pathSAMs {
			log.Infof("%.1fmin - Opening %s", time.Since(timeStart).Minutes(), pathSAM.Path)
			if err := readSAM(gctx, pathSAM, cmd, nWorker1, loaded.ChromSizes, chAln); err != nil {
				return err
			}
		}
		return nil
	})

	parts := make([][]esam.Record, nWorker)
	nReads := make([]int, nWorker)
	for iw := 0; iw < nWorker; iw++ {
		iw := iw
		g.Go(func() error {
			for batch := range chAln {
				for _, aread := range batch {
					nReads[iw]++
					r, ok := esam.FromSAM(aread, filter)
					if !ok {
						continue
					}
					parts[iw] = append(parts[iw], r)
					loaded.Names.Add(r.Name)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for iw := range parts {
		loaded.Records = append(loaded.Records, parts[iw]...)
		loaded.NRead += nReads[iw]
	}
	sort.Slice(loaded.Records, func(i, j int) bool {
		a, b := loaded.Records[i], loaded.Records[j]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})
	return loaded, nil
}

// openInput opens path, decompressing by extension (.gz, .zst, .lz4).
func openInput(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return gr, func() error { gr.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return zr, func() error { zr.Close(); return f.Close() }, nil
	case strings.HasSuffix(path, ".lz4"):
		return lz4.NewReader(f), f.Close, nil
	}
	return f, f.Close, nil
}

// ReadBedGraph reads a bedGraph file into samples per chromosome, sorted by start.
func ReadBedGraph(path string) (map[string][]pileup.Sample, error) {
	r, closer, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closer()
	samples := make(map[string][]pileup.Sample)
	scanner := bufio.NewScanner(r)
	var nLine int
	for scanner.Scan() {
		nLine++
		line := scanner.Text()
		if len(line) == 0 || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s:%d: expected 4 fields, got %d", path, nLine, len(fields))
		}
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, nLine, err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, nLine, err)
		}
		value, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, nLine, err)
		}
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%s:%d: invalid interval [%d,%d)", path, nLine, start, end)
		}
		samples[fields[0]] = append(samples[fields[0]], pileup.Sample{Start: start, End: end, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, s := range samples {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Start < s[j].Start })
	}
	return samples, nil
}

// trackSource serves records from a read index and signal from bedGraph samples.
type trackSource struct {
	index   *feature.ReadIndex
	samples map[string][]pileup.Sample
}

func (s *trackSource) Fetch(ctx context.Context, chrom string, window pileup.Region) (viewport.Batch, error) {
	if err := ctx.Err(); err != nil {
		return viewport.Batch{}, err
	}
	var b viewport.Batch
	if s.index != nil {
		b.Records = s.index.Query(chrom, window.Start, window.End)
	}
	b.Samples = pileup.ClipSamples(s.samples[chrom], window)
	log.Debugf("fetched %d record(s) and %d sample(s) on %s:%s", len(b.Records), len(b.Samples), chrom, window)
	return b, nil
}
