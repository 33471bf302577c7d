// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"time"

	"github.com/ekrasikov/viewfanout/errors"
)

type viewSourceKey struct{}

// withViewSource attaches source to ctx the way the original attaches a
// StorageValues table to a locally-copied select context so the planner
// resolves the view's inner query against the single inbound batch rather
// than the live table (spec §4.5 "block body", §6).
func withViewSource(ctx context.Context, source TableHandle) context.Context {
	return context.WithValue(ctx, viewSourceKey{}, source)
}

// ViewSource returns the virtual source table attached to ctx by
// withViewSource, if any.
func ViewSource(ctx context.Context) (TableHandle, bool) {
	src, ok := ctx.Value(viewSourceKey{}).(TableHandle)
	return src, ok
}

// inMemoryBatchSource is a BatchSource that yields a single Batch and then
// is exhausted — the trivial QueryPlan.Execute result for the default,
// pass-through Planner used where no real query executor is wired in
// (spec §1 explicitly treats the expression/aggregation executor as an
// out-of-scope external collaborator; this is a minimal stand-in that
// satisfies the Planner contract for plain "SELECT * FROM base" views).
type inMemoryBatchSource struct {
	b    Batch
	done bool
}

func (s *inMemoryBatchSource) Next(ctx context.Context) (Batch, bool, error) {
	if s.done {
		return Batch{}, false, nil
	}
	s.done = true
	return s.b, true, nil
}

// virtualSourceFactory is the default VirtualSourceFactory: it wraps the
// batch in a singleBlockTable identified by storageID, with no real
// storage behind it, since only the planner's read of it matters to this
// core.
type virtualSourceFactory struct{}

// NewVirtualSourceFactory returns the default, in-process
// VirtualSourceFactory.
func NewVirtualSourceFactory() VirtualSourceFactory { return virtualSourceFactory{} }

func (virtualSourceFactory) NewSingleBlockSource(storageID string, header Header, virtuals []Column, b Batch) (TableHandle, error) {
	return &singleBlockTable{storageID: storageID, header: header, virtuals: virtuals, batch: b}, nil
}

// singleBlockTable is a read-only TableHandle over one Batch. Its Write
// side is never called by the core; it exists purely so the planner's
// Plan/Execute path has a StorageID and a MetadataSnapshot to read, per the
// Virtual-source factory contract (spec §6).
type singleBlockTable struct {
	storageID string
	header    Header
	virtuals  []Column
	batch     Batch
}

func (t *singleBlockTable) StorageID() string          { return t.storageID }
func (t *singleBlockTable) Virtuals() []Column         { return t.virtuals }
func (t *singleBlockTable) SupportsDeduplication() bool { return false }

func (t *singleBlockTable) MetadataSnapshot() MetadataSnapshot {
	return staticMetadata{header: t.header, virtuals: t.virtuals}
}

func (t *singleBlockTable) LockForShare(ctx context.Context, queryID string, timeout time.Duration) (ShareLock, error) {
	return noopLock{}, nil
}

func (t *singleBlockTable) Write(ctx context.Context, query string, meta MetadataSnapshot, wctx context.Context) (Sink, error) {
	return nil, errors.Errorf("singleBlockTable %s is read-only: virtual sources are not write destinations", t.storageID)
}

type noopLock struct{}

func (noopLock) Release() {}

// staticMetadata is the MetadataSnapshot a singleBlockTable reports: a
// fixed header, no physical-column distinction (every header column counts
// as physical), and no stored SELECT.
type staticMetadata struct {
	header   Header
	virtuals []Column
}

func (m staticMetadata) Columns() ColumnSet { return staticColumnSet{header: m.header} }
func (m staticMetadata) SampleHeader() Header { return m.header }
func (m staticMetadata) SampleHeaderWithVirtuals(v []Column) Header {
	out := make(Header, len(m.header))
	copy(out, m.header)
	for _, c := range v {
		out = append(out, Column{Name: c.Name, Type: c.Type})
	}
	return out
}
func (m staticMetadata) SelectQuery() (string, bool) { return "", false }

type staticColumnSet struct {
	header Header
}

func (s staticColumnSet) HasPhysical(name string) bool { return s.header.HasColumn(name) }
func (s staticColumnSet) Names() []string               { return s.header.Names() }
