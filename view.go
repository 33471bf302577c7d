// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"sync"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
)

// ViewKind classifies a bound dependent (spec §4.2).
type ViewKind int

const (
	ViewDefault ViewKind = iota
	ViewMaterialized
	ViewLive
)

func (k ViewKind) String() string {
	switch k {
	case ViewMaterialized:
		return "Materialized"
	case ViewLive:
		return "Live"
	default:
		return "Default"
	}
}

// ViewStatus is the per-view state machine (spec §4.5 "State machine").
type ViewStatus int

const (
	ViewInit ViewStatus = iota
	ViewPrefixWritten
	ViewBlockWritten
	ViewSuffixWritten
	ViewFailed
)

func (s ViewStatus) String() string {
	switch s {
	case ViewPrefixWritten:
		return "PrefixWritten"
	case ViewBlockWritten:
		return "BlockWritten"
	case ViewSuffixWritten:
		return "SuffixWritten"
	case ViewFailed:
		return "Failed"
	default:
		return "Init"
	}
}

// ViewStats is the telemetry record carried by a ViewRecord (spec §3 "view
// record" / §4.6). ElapsedMS and Status are written only by the goroutine
// running that view's current stage; readers must wait for the pool
// barrier before looking at them (spec §5 "Shared-resource policy").
type ViewStats struct {
	DisplayName string
	Kind        ViewKind
	Thread      *accounting.CurrentThread
	ElapsedMS   int64
	EventTime   time.Time
	Status      ViewStatus
}

// ViewRecord is one dependent bound for the lifetime of a Fan-out Writer.
// It is created during construction, mutated only by the writer (status,
// elapsed, exception), and destroyed with the writer — destruction must
// preserve the caller's accounting context (spec §3 "View record"
// lifecycle, §5).
type ViewRecord struct {
	mu sync.Mutex

	// InnerQuery is the view's stored SELECT (Materialized); empty for Live
	// and Default dependents. A Live view's inner query is not kept here,
	// not even for logging.
	InnerQuery string
	// TableID is the view's own identifier, not its target's.
	TableID TableRef
	// Downstream is the sink this view's rows are ultimately written to:
	// a synthesized insert sink for Materialized views, or a recursively
	// constructed Fan-out Writer for Live and Default dependents.
	Downstream Sink
	// Lock is the shared lock acquired on the view's own target storage
	// during binding (spec I1), released when the writer is destroyed.
	Lock ShareLock

	Stats ViewStats

	exception error
}

// setException records err as the view's captured failure and advances its
// status to Failed. Safe for concurrent use across distinct views; a
// single view's stages never run concurrently with each other (spec I3).
func (v *ViewRecord) setException(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.exception = err
	v.Stats.Status = ViewFailed
}

// Exception returns the view's most recently captured failure, if any.
func (v *ViewRecord) Exception() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exception
}

// Failed reports whether this view has transitioned to the terminal Failed
// state (spec I2: monotonic, any state → Failed).
func (v *ViewRecord) Failed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Stats.Status == ViewFailed
}

func (v *ViewRecord) setStatus(s ViewStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Stats.Status == ViewFailed {
		return
	}
	v.Stats.Status = s
}

func (v *ViewRecord) addElapsed(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Stats.ElapsedMS += d.Milliseconds()
}

// snapshotStats copies the view's stats under lock, for the telemetry sink
// to read after the pool barrier without racing the last writer.
func (v *ViewRecord) snapshotStats() ViewStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.Stats
}

// Close releases the view's lock and, if Downstream is itself a Fan-out
// Writer, closes it recursively. The caller's accounting context must
// survive this call (spec §5, §9 "destructor ordering trick").
func (v *ViewRecord) Close() error {
	if v.Lock != nil {
		v.Lock.Release()
	}
	if closer, ok := v.Downstream.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
