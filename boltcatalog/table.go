package boltcatalog

import (
	"context"
	"sync"
	"time"

	"github.com/ekrasikov/viewfanout"
)

// tableHandle is the viewfanout.TableHandle backing one registered table.
// Its storage engine is intentionally trivial — an in-memory batch log —
// because spec.md §1 explicitly places the storage/merge engine out of
// scope; this exists only to give the core something concrete to drive
// end-to-end without a full storage layer.
type tableHandle struct {
	ref  viewfanout.TableRef
	rec  tableRecord
	meta viewfanout.MetadataSnapshot

	lockMu   sync.Mutex
	lockHeld bool
	lockRefs int32

	logMu        sync.Mutex
	written      []viewfanout.Batch
	lastWasDup   bool
	lastRowCount int
}

func newTableHandle(ref viewfanout.TableRef, rec tableRecord) *tableHandle {
	cols := make(viewfanout.Header, len(rec.Columns))
	for i, name := range rec.Columns {
		cols[i] = viewfanout.Column{Name: name}
	}
	return &tableHandle{
		ref:  ref,
		rec:  rec,
		meta: boltMetadata{header: cols, innerQuery: rec.InnerQuery},
	}
}

func (h *tableHandle) StorageID() string          { return h.rec.StorageID }
func (h *tableHandle) Virtuals() []viewfanout.Column { return nil }
func (h *tableHandle) SupportsDeduplication() bool { return h.rec.Deduplicate }
func (h *tableHandle) MetadataSnapshot() viewfanout.MetadataSnapshot { return h.meta }

// LockForShare grants a naive in-process shared lock: any number of
// concurrent holders are allowed (it is a "share" lock, not exclusive),
// refcounted so release is idempotent-safe across nested binds of the same
// table. A real TableHandle would coordinate with whatever actually
// protects the storage object from concurrent schema changes.
func (h *tableHandle) LockForShare(ctx context.Context, queryID string, timeout time.Duration) (viewfanout.ShareLock, error) {
	h.lockMu.Lock()
	h.lockHeld = true
	h.lockRefs++
	h.lockMu.Unlock()
	return &boltShareLock{h: h}, nil
}

// Write returns a Sink that appends every batch it receives to an
// in-memory log, exposed via Batches() for tests to assert against.
func (h *tableHandle) Write(ctx context.Context, query string, meta viewfanout.MetadataSnapshot, wctx context.Context) (viewfanout.Sink, error) {
	return &boltSink{handle: h, header: meta.SampleHeader()}, nil
}

// Batches returns every batch written through this handle's sink so far,
// in order. Intended for tests and the demo CLI's summary output.
func (h *tableHandle) Batches() []viewfanout.Batch {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	out := make([]viewfanout.Batch, len(h.written))
	copy(out, h.written)
	return out
}

type boltShareLock struct {
	h        *tableHandle
	released bool
	mu       sync.Mutex
}

func (l *boltShareLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.h.lockMu.Lock()
	l.h.lockRefs--
	if l.h.lockRefs <= 0 {
		l.h.lockHeld = false
	}
	l.h.lockMu.Unlock()
}

// boltSink is the trivial Sink a tableHandle.Write opens: rows are appended
// to the handle's in-memory log and, for deduplication reporting, the last
// inserted batch's row count is compared to the new one's so repeated
// identical-size inserts can simulate the replicated-dedup Non-goal the
// spec treats as an external behavior (§3 "replicated sink").
type boltSink struct {
	handle *tableHandle
	header viewfanout.Header
}

func (s *boltSink) Prefix(ctx context.Context) error { return nil }

func (s *boltSink) Write(ctx context.Context, b viewfanout.Batch) error {
	s.handle.logMu.Lock()
	defer s.handle.logMu.Unlock()
	s.handle.lastWasDup = b.NumRows() == s.handle.lastRowCount && b.NumRows() > 0
	s.handle.lastRowCount = b.NumRows()
	s.handle.written = append(s.handle.written, b)
	return nil
}

func (s *boltSink) Suffix(ctx context.Context) error { return nil }
func (s *boltSink) Flush(ctx context.Context) error  { return nil }
func (s *boltSink) Header() viewfanout.Header        { return s.header }

// LastBlockWasDuplicate implements viewfanout.ReplicatedSink.
func (s *boltSink) LastBlockWasDuplicate() bool {
	s.handle.logMu.Lock()
	defer s.handle.logMu.Unlock()
	return s.handle.lastWasDup
}

type boltMetadata struct {
	header     viewfanout.Header
	innerQuery string
}

func (m boltMetadata) Columns() viewfanout.ColumnSet { return boltColumnSet{header: m.header} }
func (m boltMetadata) SampleHeader() viewfanout.Header { return m.header }
func (m boltMetadata) SampleHeaderWithVirtuals(v []viewfanout.Column) viewfanout.Header {
	out := make(viewfanout.Header, len(m.header))
	copy(out, m.header)
	for _, c := range v {
		out = append(out, c)
	}
	return out
}
func (m boltMetadata) SelectQuery() (string, bool) { return m.innerQuery, m.innerQuery != "" }

type boltColumnSet struct {
	header viewfanout.Header
}

func (s boltColumnSet) HasPhysical(name string) bool { return s.header.HasColumn(name) }
func (s boltColumnSet) Names() []string               { return s.header.Names() }
