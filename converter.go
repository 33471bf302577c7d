// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

// Converter renames/reorders a batch's columns to match a required header
// by column name (spec GLOSSARY "Converter"), the step that sits between a
// materialized view's squashed SELECT output and its downstream sink's
// declared Header.
type Converter struct {
	target Header
}

// NewConverter builds a Converter that reshapes batches to match target.
func NewConverter(target Header) *Converter {
	return &Converter{target: target}
}

// Convert returns a batch whose columns are exactly target's, by name, in
// target's order. Columns present in b but absent from target are dropped;
// columns present in target but absent from b are omitted (callers that
// require them present should validate before calling Convert).
func (c *Converter) Convert(b Batch) Batch {
	return b.Project(c.target.Names())
}
