//
// Copyright (C) 2015-2023 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package cigar decodes CIGAR strings into reference-anchored operations.
package cigar

import (
	"fmt"
	"regexp"

	"github.com/biogo/hts/sam"
)

// Kind is the type of a CIGAR operation. It shares the numbering of sam.CigarOpType.
type Kind sam.CigarOpType

const (
	Match     = Kind(sam.CigarMatch)
	Insertion = Kind(sam.CigarInsertion)
	Deletion  = Kind(sam.CigarDeletion)
	Skip      = Kind(sam.CigarSkipped)
	SoftClip  = Kind(sam.CigarSoftClipped)
	HardClip  = Kind(sam.CigarHardClipped)
	Padding   = Kind(sam.CigarPadded)
	Equal     = Kind(sam.CigarEqual)
	Mismatch  = Kind(sam.CigarMismatch)
)

var grammar = regexp.MustCompile(`^([0-9]+[MIDNSHP=X])+$`)

// MaxLength is the longest operation a BAM CIGAR can store.
const MaxLength = 1<<28 - 1

// ConsumesReference reports whether the operation advances the reference cursor.
func (k Kind) ConsumesReference() bool {
	return sam.CigarOpType(k).Consumes().Reference == 1
}

// ConsumesQuery reports whether the operation advances the read cursor.
func (k Kind) ConsumesQuery() bool {
	return sam.CigarOpType(k).Consumes().Query == 1
}

func (k Kind) String() string {
	return sam.CigarOpType(k).String()
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Op is one decoded operation. RefStart == RefEnd for operations not consuming the reference.
// QueryStart is the offset of the operation in the read sequence.
type Op struct {
	Kind       Kind `json:"kind"`
	Length     int  `json:"length"`
	RefStart   int  `json:"ref_start"`
	RefEnd     int  `json:"ref_end"`
	QueryStart int  `json:"query_start"`
}

// MalformedCigarError is returned when a CIGAR string does not follow (\d+[MIDNSHP=X])+
// or contains a zero-length operation.
type MalformedCigarError struct {
	Cigar  string
	Reason string
}

func (e *MalformedCigarError) Error() string {
	return fmt.Sprintf("malformed cigar %q: %s", e.Cigar, e.Reason)
}

// Decode parses a CIGAR string and anchors each operation on the reference, starting at refStart.
func Decode(cigar string, refStart int) ([]Op, error) {
	if refStart < 0 {
		return nil, fmt.Errorf("negative reference start %d", refStart)
	}
	if !grammar.MatchString(cigar) {
		return nil, &MalformedCigarError{Cigar: cigar, Reason: "does not match grammar"}
	}
	c, err := sam.ParseCigar([]byte(cigar))
	if err != nil {
		return nil, &MalformedCigarError{Cigar: cigar, Reason: err.Error()}
	}
	// sam.ParseCigar splits longer operations in several
	if len(c) != countOps(cigar) {
		return nil, &MalformedCigarError{Cigar: cigar, Reason: fmt.Sprintf("operation length exceeds %d", MaxLength)}
	}
	ops, err := FromSAM(c, refStart)
	if err != nil {
		return nil, &MalformedCigarError{Cigar: cigar, Reason: err.Error()}
	}
	return ops, nil
}

func countOps(cigar string) (n int) {
	for i := 0; i < len(cigar); i++ {
		if cigar[i] < '0' || cigar[i] > '9' {
			n++
		}
	}
	return
}

// FromSAM anchors an already parsed biogo Cigar on the reference.
func FromSAM(c sam.Cigar, refStart int) ([]Op, error) {
	ops := make([]Op, 0, len(c))
	ref, query := refStart, 0
	for i, co := range c {
		t := co.Type()
		if t >= sam.CigarBack {
			return nil, fmt.Errorf("unsupported operation %s at %d", t, i)
		}
		if co.Len() == 0 {
			return nil, fmt.Errorf("zero-length operation %s at %d", t, i)
		}
		con := t.Consumes()
		op := Op{Kind: Kind(t), Length: co.Len(), RefStart: ref, QueryStart: query}
		ref += co.Len() * con.Reference
		query += co.Len() * con.Query
		op.RefEnd = ref
		ops = append(ops, op)
	}
	return ops, nil
}

// Span returns the reference interval covered by ops.
func Span(ops []Op) (start, end int) {
	if len(ops) == 0 {
		return
	}
	return ops[0].RefStart, ops[len(ops)-1].RefEnd
}

// QueryLength returns the number of read bases described by ops (hard clips excluded).
func QueryLength(ops []Op) (length int) {
	for _, op := range ops {
		if op.Kind.ConsumesQuery() {
			length += op.Length
		}
	}
	return
}

// Blocks returns the reference intervals where read bases are aligned; adjacent blocks are merged.
// E.g. 8M2I4M1D3M at 6 gives [6,18) and [19,22).
func Blocks(ops []Op) (blocks [][2]int) {
	for _, op := range ops {
		if !op.Kind.ConsumesReference() || !op.Kind.ConsumesQuery() {
			continue
		}
		if n := len(blocks); n > 0 && blocks[n-1][1] == op.RefStart {
			blocks[n-1][1] = op.RefEnd
		} else {
			blocks = append(blocks, [2]int{op.RefStart, op.RefEnd})
		}
	}
	return
}
