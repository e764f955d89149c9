//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package output writes coverage, signal and layouts to files, optionally compressed.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/pierrec/lz4"
)

type GenericWriter interface {
	Write(buf []byte) (n int, err error)
	Close() error
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// SplitFormat splits "format+zip" (e.g. "bedgraph+lz4") into format and compression.
func SplitFormat(raw string) (format, zip string) {
	if strings.Contains(raw, "+") {
		doubleFormat := strings.SplitN(raw, "+", 2)
		return doubleFormat[0], doubleFormat[1]
	}
	return raw, ""
}

// NewWriter wraps w with the compression zip: "lz4", "lz4hc", "gz", "zst" or none if empty.
// Closing the returned writer flushes the compressor but does not close w.
func NewWriter(w io.Writer, zip string) (GenericWriter, error) {
	switch zip {
	case "":
		return nopCloser{w}, nil
	case "lz4":
		return lz4.NewWriter(w), nil
	case "lz4hc":
		lzWriter := lz4.NewWriter(w)
		lzWriter.Header = lz4.Header{CompressionLevel: 9}
		return lzWriter, nil
	case "gz":
		return gzip.NewWriter(w), nil
	case "zst":
		return zstd.NewWriter(w)
	}
	return nil, fmt.Errorf("unknown compression %q", zip)
}

// File is an output file with its compressor.
type File struct {
	f *os.File
	w GenericWriter
}

// Create opens path for writing (appending if appendOutput) compressed with zip.
func Create(path string, zip string, appendOutput bool) (*File, error) {
	// Append or Create flag
	var fg int
	if appendOutput {
		fg = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	} else {
		fg = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, fg, 0666)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, zip)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, w: w}, nil
}

func (o *File) Write(buf []byte) (int, error) {
	return o.w.Write(buf)
}

func (o *File) Close() error {
	err := o.w.Close()
	if ferr := o.f.Close(); err == nil {
		err = ferr
	}
	return err
}
