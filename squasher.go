// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

// Squasher coalesces a stream of small batches into fewer, larger ones,
// emitting once the accumulated rows or estimated bytes reach the
// configured minimum (spec GLOSSARY "Squasher"). It mirrors the role of
// SquashingBlockInputStream in the source this spec is drawn from: a
// materialized view's SELECT can legitimately produce many tiny
// sub-batches (e.g. a two-level GROUP BY) for a single inserted batch, and
// those should not each become a separate downstream write.
type Squasher struct {
	minRows  int64
	minBytes int64

	pending Batch
	rows    int64
}

// NewSquasher returns a Squasher that holds output until it has at least
// minRows rows or minBytes of estimated payload, whichever comes first. A
// zero threshold disables that trigger.
func NewSquasher(minRows, minBytes int64) *Squasher {
	return &Squasher{minRows: minRows, minBytes: minBytes}
}

// Push accumulates b into the pending output, returning a ready batch and
// true if the threshold was reached.
func (sq *Squasher) Push(b Batch) (Batch, bool) {
	sq.pending = appendBatch(sq.pending, b)
	sq.rows += int64(b.NumRows())

	if sq.minRows > 0 && sq.rows >= sq.minRows {
		return sq.flush()
	}
	if sq.minBytes > 0 && estimateBytes(sq.pending) >= sq.minBytes {
		return sq.flush()
	}
	return Batch{}, false
}

// Flush returns whatever is pending, even if it never reached the
// threshold — called once the upstream source is exhausted.
func (sq *Squasher) Flush() (Batch, bool) {
	if sq.rows == 0 {
		return Batch{}, false
	}
	return sq.flush()
}

func (sq *Squasher) flush() (Batch, bool) {
	out := sq.pending
	sq.pending = Batch{}
	sq.rows = 0
	return out, true
}

func appendBatch(a, b Batch) Batch {
	if len(a.Columns) == 0 {
		return b
	}
	byName := make(map[string]int, len(a.Columns))
	for i, c := range a.Columns {
		byName[c.Name] = i
	}
	out := a
	out.Columns = append([]Column(nil), a.Columns...)
	for _, c := range b.Columns {
		if i, ok := byName[c.Name]; ok {
			out.Columns[i].Values = append(append([]interface{}(nil), out.Columns[i].Values...), c.Values...)
		}
	}
	return out
}

func estimateBytes(b Batch) int64 {
	var n int64
	for _, c := range b.Columns {
		n += int64(len(c.Values)) * 8 // opaque, size-agnostic estimate
	}
	return n
}
