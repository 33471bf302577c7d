// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"time"
)

// TableRef is a (database, table) pair with a display form, carrying an
// opaque handle to the physical storage object it names.
type TableRef struct {
	Database string
	Table    string
}

// String returns the display form used in logs and error messages.
func (r TableRef) String() string {
	if r.Database == "" {
		return r.Table
	}
	return r.Database + "." + r.Table
}

// DependentKind classifies a dependent returned by the Catalog, driving the
// View Binding table in spec §4.2.
type DependentKind int

const (
	// DependentDefault is an ordinary dependent table with no view semantics.
	DependentDefault DependentKind = iota
	// DependentMaterialized is a materialized view.
	DependentMaterialized
	// DependentLive is a live view.
	DependentLive
)

// Dependent is one entry in the Catalog's dependents-of result: a table
// reference plus enough classification for the binder to decide how to
// construct its view record.
type Dependent struct {
	Ref  TableRef
	Kind DependentKind
}

// Catalog is the external dependency-graph collaborator (spec §6). Its
// implementation — querying DDL state, cluster metadata, or a persisted
// store — is out of scope; only this interface is consumed.
type Catalog interface {
	// DependentsOf returns the ordered set of tables depending on ref
	// (materialized views, live views, ordinary dependents). Ordering must
	// be stable across calls within one insert, but is otherwise whatever
	// the catalog returns.
	DependentsOf(ctx context.Context, ref TableRef) ([]Dependent, error)
	// Resolve returns the table handle for ref, or ErrTableDisappeared if
	// ref no longer exists.
	Resolve(ctx context.Context, ref TableRef) (TableHandle, error)
}

// ColumnSet describes a table's column set for the purposes of binding: the
// physical columns a view's SELECT output can actually be inserted into.
type ColumnSet interface {
	// HasPhysical reports whether name is a real stored column (not an
	// alias or computed column).
	HasPhysical(name string) bool
	// Names lists the physical column names, in declaration order.
	Names() []string
}

// MetadataSnapshot is a point-in-time view of a table's schema, consumed by
// the binder and by header computation (spec §6).
type MetadataSnapshot interface {
	Columns() ColumnSet
	SampleHeader() Header
	SampleHeaderWithVirtuals(virtuals []Column) Header
	// SelectQuery returns the materialized view's stored inner query. Only
	// meaningful when the snapshot describes a materialized view.
	SelectQuery() (innerQuery string, ok bool)
}

// Sink is the write destination for a table or view: a base table's direct
// writer, or a materialized view's downstream insert.
type Sink interface {
	Prefix(ctx context.Context) error
	Write(ctx context.Context, b Batch) error
	Suffix(ctx context.Context) error
	Flush(ctx context.Context) error
	Header() Header
}

// ReplicatedSink is the optional downcast of a Sink that supports
// deduplication reporting (spec §6).
type ReplicatedSink interface {
	Sink
	LastBlockWasDuplicate() bool
}

// TableHandle is the external storage collaborator consumed by the binder
// and writer (spec §6).
type TableHandle interface {
	LockForShare(ctx context.Context, queryID string, timeout time.Duration) (ShareLock, error)
	MetadataSnapshot() MetadataSnapshot
	Virtuals() []Column
	Write(ctx context.Context, query string, meta MetadataSnapshot, wctx context.Context) (Sink, error)
	StorageID() string
	SupportsDeduplication() bool
}

// LiveViewWriter is the static collaborator for writing directly into a
// live view (spec §6: "Live view: static write_into(view, batch, context)").
type LiveViewWriter interface {
	WriteIntoLiveView(ctx context.Context, target TableHandle, b Batch) error
}

// QueryPlan is an executable stream produced by the query planner collaborator.
type QueryPlan interface {
	SampleHeader() Header
	Execute(ctx context.Context) (BatchSource, error)
}

// BatchSource yields Batches one at a time until exhausted.
type BatchSource interface {
	Next(ctx context.Context) (Batch, bool, error)
}

// Planner builds an executable QueryPlan from a stored inner query and a
// select context (spec §6: "Query planner").
type Planner interface {
	Plan(ctx context.Context, innerQuery string, selectCtx context.Context) (QueryPlan, error)
}

// VirtualSourceFactory constructs a single-block read-only table wrapping a
// batch, identified by the origin storage id (spec §6, §4.5 "block body").
type VirtualSourceFactory interface {
	NewSingleBlockSource(storageID string, header Header, virtuals []Column, b Batch) (TableHandle, error)
}
