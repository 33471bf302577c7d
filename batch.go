// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"fmt"

	"github.com/ekrasikov/viewfanout/errors"
)

const (
	// ErrShapeMismatch is returned when a batch's nested array columns
	// don't share a common length within a nested group.
	ErrShapeMismatch errors.Code = "ShapeMismatch"
)

// Column describes one named, typed column of a Batch. NestedGroup is the
// shared prefix identifying which nested array-structured group a column
// belongs to ("" for ordinary columns); columns sharing a NestedGroup must
// have equal-length Values slices.
type Column struct {
	Name        string
	Type        string
	NestedGroup string
	Values      []interface{}
}

// Len returns the column's row count.
func (c Column) Len() int { return len(c.Values) }

// Header is a batch's column layout without data: names and types only.
// Sinks advertise the Header they expect; Converter reshapes a Batch to
// match one by column name.
type Header []Column

// Names returns the header's column names in order.
func (h Header) Names() []string {
	names := make([]string, len(h))
	for i, c := range h {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether name appears in the header.
func (h Header) HasColumn(name string) bool {
	for _, c := range h {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Batch is an opaque rectangular payload: an ordered sequence of named,
// typed columns of equal length, possibly including nested array-structured
// groups.
type Batch struct {
	Columns []Column
}

// Header returns the batch's column layout without data.
func (b Batch) Header() Header {
	h := make(Header, len(b.Columns))
	for i, c := range b.Columns {
		h[i] = Column{Name: c.Name, Type: c.Type, NestedGroup: c.NestedGroup}
	}
	return h
}

// NumRows returns the row count of the batch, or 0 if it has no columns.
func (b Batch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

// ByteSize estimates the batch's in-memory footprint for accounting
// purposes (CurrentThread.AddBytes) -- not a wire-format size. Strings and
// byte slices count their actual length; every other value type is charged
// a flat 8 bytes, matching a typical columnar fixed-width cell.
func (b Batch) ByteSize() int64 {
	var n int64
	for _, c := range b.Columns {
		for _, v := range c.Values {
			switch val := v.(type) {
			case string:
				n += int64(len(val))
			case []byte:
				n += int64(len(val))
			default:
				n += 8
			}
		}
	}
	return n
}

// ValidateArraySizes checks the parallel-nested-array-sizes invariant: every
// sibling column sharing a non-empty NestedGroup must have the same length.
// It is run on every batch entering and leaving a view transformation
// (spec: "parallel nested array sizes").
func ValidateArraySizes(b Batch) error {
	groupLen := map[string]int{}
	for _, c := range b.Columns {
		if c.NestedGroup == "" {
			continue
		}
		if n, ok := groupLen[c.NestedGroup]; ok {
			if n != c.Len() {
				return errors.New(ErrShapeMismatch, fmt.Sprintf(
					"nested group %q: column %q has length %d, expected %d",
					c.NestedGroup, c.Name, c.Len(), n))
			}
			continue
		}
		groupLen[c.NestedGroup] = c.Len()
	}
	return nil
}

// Column looks up a column by name, reporting ok=false if absent.
func (b Batch) Column(name string) (Column, bool) {
	for _, c := range b.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Project returns a new Batch containing only the named columns, in the
// order given by names, dropping any column not present in the source
// batch. This is the mechanism behind a materialized view's "intersection
// of SELECT output columns with the target's physical columns" binding
// (spec §4.2) and behind Converter's column-matching-by-name (§GLOSSARY).
func (b Batch) Project(names []string) Batch {
	out := Batch{Columns: make([]Column, 0, len(names))}
	for _, name := range names {
		if c, ok := b.Column(name); ok {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}
