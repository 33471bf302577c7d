// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"sync"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/errors"
)

// newTestThread returns a fresh accounting thread backed by a no-op
// client, for tests that construct a ViewRecord directly without going
// through binder.go.
func newTestThread() *accounting.CurrentThread {
	return accounting.NewCurrentThread(accounting.NopClient, "test")
}

// fakeCatalog is a hand-rolled Catalog for unit tests: a fixed dependents
// map plus a fixed table-handle map, no persistence.
type fakeCatalog struct {
	dependents map[string][]Dependent
	tables     map[string]*fakeTableHandle
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{dependents: map[string][]Dependent{}, tables: map[string]*fakeTableHandle{}}
}

func (c *fakeCatalog) addTable(ref TableRef, h *fakeTableHandle) {
	c.tables[ref.String()] = h
}

func (c *fakeCatalog) addDependent(parent TableRef, dep Dependent) {
	c.dependents[parent.String()] = append(c.dependents[parent.String()], dep)
}

func (c *fakeCatalog) DependentsOf(ctx context.Context, ref TableRef) ([]Dependent, error) {
	return c.dependents[ref.String()], nil
}

func (c *fakeCatalog) Resolve(ctx context.Context, ref TableRef) (TableHandle, error) {
	h, ok := c.tables[ref.String()]
	if !ok {
		return nil, errTableNotFoundForTest
	}
	return h, nil
}

var errTableNotFoundForTest = errors.New(ErrTableDisappeared, "fake table not found")

// fakeTableHandle is a minimal TableHandle: one fakeSink per Write call,
// columns fixed at construction, no real storage.
type fakeTableHandle struct {
	storageID   string
	header      Header
	dedup       bool
	innerQuery  string
	lastSink    *fakeSink
	lockTimeout bool // when true, LockForShare blocks until ctx is done (for timeout tests)
}

func (h *fakeTableHandle) StorageID() string             { return h.storageID }
func (h *fakeTableHandle) Virtuals() []Column            { return nil }
func (h *fakeTableHandle) SupportsDeduplication() bool   { return h.dedup }
func (h *fakeTableHandle) MetadataSnapshot() MetadataSnapshot {
	return fakeMetadata{header: h.header, innerQuery: h.innerQuery}
}

func (h *fakeTableHandle) LockForShare(ctx context.Context, queryID string, timeout time.Duration) (ShareLock, error) {
	if h.lockTimeout {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return fakeLock{}, nil
}

func (h *fakeTableHandle) Write(ctx context.Context, query string, meta MetadataSnapshot, wctx context.Context) (Sink, error) {
	h.lastSink = &fakeSink{header: meta.SampleHeader()}
	return h.lastSink, nil
}

type fakeLock struct{}

func (fakeLock) Release() {}

type fakeMetadata struct {
	header     Header
	innerQuery string
}

func (m fakeMetadata) Columns() ColumnSet               { return fakeColumnSet{header: m.header} }
func (m fakeMetadata) SampleHeader() Header             { return m.header }
func (m fakeMetadata) SampleHeaderWithVirtuals(v []Column) Header {
	out := append(Header{}, m.header...)
	return append(out, v...)
}
func (m fakeMetadata) SelectQuery() (string, bool) { return m.innerQuery, m.innerQuery != "" }

type fakeColumnSet struct{ header Header }

func (s fakeColumnSet) HasPhysical(name string) bool { return s.header.HasColumn(name) }
func (s fakeColumnSet) Names() []string               { return s.header.Names() }

// fakeSink records every call made to it, optionally failing on a named
// phase.
type fakeSink struct {
	mu sync.Mutex

	header Header

	prefixErr, writeErr, suffixErr, flushErr error
	batches                                  []Batch
	prefixed, suffixed, flushed              bool
	lastWasDup                               bool
}

func (s *fakeSink) Header() Header { return s.header }

func (s *fakeSink) Prefix(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixed = true
	return s.prefixErr
}

func (s *fakeSink) Write(ctx context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *fakeSink) Suffix(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffixed = true
	return s.suffixErr
}

func (s *fakeSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return s.flushErr
}

func (s *fakeSink) LastBlockWasDuplicate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWasDup
}

func (s *fakeSink) snapshotBatches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}
