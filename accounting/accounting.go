// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package accounting tracks per-logical-task counters (rows, bytes, wall
// time) and attributes them to the correct owner regardless of which
// goroutine, or which OS thread a goroutine happens to be scheduled onto,
// executes the work.
//
// The C++ system this is ported from keeps a thread_local "current thread"
// slot that every view's stage execution swaps in and restores. Goroutines
// migrate across OS threads, so a literal port of that would be unsound; the
// idiomatic Go equivalent is to carry the current accounting Context as a
// context.Context value. Context derivation is a tree, not a mutable slot:
// a child can't leak its mutations back up to its parent, so the
// restoration invariant the original design worries about is structural
// here rather than something callers must remember to undo. Scope exists
// anyway to give the swap a name and a place to hang defers, matching the
// shape of the original's "install, then guarantee restore" discipline.
package accounting

import (
	"context"
	"expvar"
	"sort"
	"strings"
	"sync"
	"time"
)

func init() {
	NopClient = &nopClient{}
}

// Expvar is the default expvar map clients publish into.
var Expvar = expvar.NewMap("viewfanout")

// Client reports the two things a view's CurrentThread ever needs to push
// to a metrics backend: a named counter (rows/bytes written) and a named
// timing (stage wall time). WithTags derives a child scoped to an
// additional dimension -- a view's display name -- without mutating the
// parent's tags. There's no StatsD-style Set/Open/Close surface here: a
// view's accounting context never reports a string-valued gauge or owns a
// connection lifecycle, so there's nothing for those to do.
type Client interface {
	WithTags(tags ...string) Client
	Count(name string, value int64)
	Timing(name string, value time.Duration)
}

// NopClient discards everything.
var NopClient Client

type nopClient struct{}

func (c *nopClient) WithTags(tags ...string) Client          { return c }
func (c *nopClient) Count(name string, value int64)          {}
func (c *nopClient) Timing(name string, value time.Duration) {}

// ExpvarClient writes counters into expvar, grouped under the tag path
// that produced them. Handy in tests and for a dependency-free default.
type ExpvarClient struct {
	mu   sync.Mutex
	m    *expvar.Map
	tags []string
}

func NewExpvarClient() *ExpvarClient {
	return &ExpvarClient{m: Expvar}
}

func (c *ExpvarClient) WithTags(tags ...string) Client {
	m := &expvar.Map{}
	m.Init()
	c.m.Set(strings.Join(tags, ","), m)
	return &ExpvarClient{m: m, tags: unionStrings(c.tags, tags)}
}

func (c *ExpvarClient) Count(name string, value int64) { c.m.Add(name, value) }

func (c *ExpvarClient) Timing(name string, value time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, _ := c.m.Get(name).(time.Duration)
	c.m.Set(name, d+value)
}

// MultiClient fans out to several Clients -- e.g. Prometheus for alerting
// plus Expvar for local debugging.
type MultiClient []Client

func (a MultiClient) WithTags(tags ...string) Client {
	other := make(MultiClient, len(a))
	for i := range a {
		other[i] = a[i].WithTags(tags...)
	}
	return other
}

func (a MultiClient) Count(name string, value int64) {
	for _, c := range a {
		c.Count(name, value)
	}
}

func (a MultiClient) Timing(name string, value time.Duration) {
	for _, c := range a {
		c.Timing(name, value)
	}
}

func unionStrings(a, b []string) []string {
	sort.Strings(a)
	sort.Strings(b)
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for len(a) > 0 || len(b) > 0 {
		switch {
		case len(a) == 0:
			out, b = append(out, b[0]), b[1:]
		case len(b) == 0:
			out, a = append(out, a[0]), a[1:]
		case a[0] < b[0]:
			out, a = append(out, a[0]), a[1:]
		case b[0] < a[0]:
			out, b = append(out, b[0]), b[1:]
		default:
			out, a, b = append(out, a[0]), a[1:], b[1:]
		}
	}
	return out
}

// CurrentThread is the per-logical-task accounting context: a Client plus
// a small set of resettable resource-usage counters. One is created per
// view record at bind time and installed for the duration of each of that
// view's stage executions.
type CurrentThread struct {
	Name   string
	Client Client

	mu           sync.Mutex
	rowsWritten  int64
	bytesWritten int64
	wallTime     time.Duration
}

// NewCurrentThread returns a fresh accounting context scoped to name
// (typically the view's display name), deriving its Client from parent.
func NewCurrentThread(parent Client, name string) *CurrentThread {
	if parent == nil {
		parent = NopClient
	}
	return &CurrentThread{Name: name, Client: parent.WithTags(name)}
}

// Reset zeroes the resource-usage counters. Called immediately after a
// CurrentThread is installed for a new stage, so that a view's second
// block doesn't double-count the first's rows.
func (ct *CurrentThread) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.rowsWritten, ct.bytesWritten, ct.wallTime = 0, 0, 0
}

// AddRows accumulates n rows onto the local counter and reports them to the
// Client, tagged with this thread's name via WithTags at construction
// time. Called once per batch emitted to a view's downstream sink.
func (ct *CurrentThread) AddRows(n int64) {
	ct.mu.Lock()
	ct.rowsWritten += n
	ct.mu.Unlock()
	ct.Client.Count("rows_written", n)
}

// AddBytes is AddRows' counterpart for the batch's estimated byte size.
func (ct *CurrentThread) AddBytes(n int64) {
	ct.mu.Lock()
	ct.bytesWritten += n
	ct.mu.Unlock()
	ct.Client.Count("bytes_written", n)
}

func (ct *CurrentThread) AddWall(d time.Duration) {
	ct.mu.Lock()
	ct.wallTime += d
	ct.mu.Unlock()
	ct.Client.Timing("stage_wall_time", d)
}

// Snapshot returns the counters accumulated since the last Reset, read by
// the query-views telemetry sink to annotate each view's log record with
// how much work it actually did.
func (ct *CurrentThread) Snapshot() (rows, bytes int64, wall time.Duration) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.rowsWritten, ct.bytesWritten, ct.wallTime
}

type currentThreadKey struct{}

// WithCurrent derives a context carrying ct as the current accounting
// thread. The parent ctx is unaffected: once the derived context goes out
// of scope the caller's view of Current is exactly what it was before,
// which is what the original's "restore on every exit path" invariant
// demands -- here it falls out of context.Context's tree structure rather
// than needing bespoke defer bookkeeping.
func WithCurrent(ctx context.Context, ct *CurrentThread) context.Context {
	return context.WithValue(ctx, currentThreadKey{}, ct)
}

// Current returns the accounting thread installed by the nearest enclosing
// WithCurrent, or nil if none is installed (the caller's own top-level
// context, for instance).
func Current(ctx context.Context) *CurrentThread {
	ct, _ := ctx.Value(currentThreadKey{}).(*CurrentThread)
	return ct
}
