// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"fmt"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/errors"
	"github.com/ekrasikov/viewfanout/logger"
	pingcaperrors "github.com/pingcap/errors"
)

// binder constructs the ordered list of ViewRecords for a table, resolving
// the Dependency Resolver (spec §4.1) and View Binding (spec §4.2) steps.
// It is a value type rather than a package function because recursive
// binding needs to carry shared state (the visited set, the recursion
// depth, and the shared construction-time collaborators) across levels.
type binder struct {
	catalog  Catalog
	planner  Planner
	vsources VirtualSourceFactory
	liveView LiveViewWriter
	cfg      Config
	log      logger.Logger
	client   accounting.Client
	queryID  string

	visited map[string]bool
	depth   int
}

func newBinder(catalog Catalog, planner Planner, vsources VirtualSourceFactory, liveView LiveViewWriter, cfg Config, log logger.Logger, client accounting.Client, queryID string) *binder {
	return &binder{
		catalog:  catalog,
		planner:  planner,
		vsources: vsources,
		liveView: liveView,
		cfg:      cfg,
		log:      log,
		client:   client,
		queryID:  queryID,
		visited:  map[string]bool{},
	}
}

// Bind resolves root's dependents and returns one ViewRecord per dependent,
// in the catalog's order (spec §4.1, §4.2). It is also used recursively by
// bindDependent for Live and Default dependents, each becoming the root of
// its own nested Fan-out Writer.
func (b *binder) Bind(ctx context.Context, wctx WriteContextPair, root TableRef, rootStorageID string, rootMeta MetadataSnapshot) ([]*ViewRecord, error) {
	if b.visited[root.String()] {
		return nil, pingcaperrors.Trace(errors.New(ErrCycleDetected,
			fmt.Sprintf("cycle detected while binding views: %s was already visited", root)))
	}
	if b.depth > b.cfg.MaxViewRecursionDepth {
		return nil, pingcaperrors.Trace(errors.New(ErrRecursionTooDeep,
			fmt.Sprintf("view binding recursion exceeded depth %d at %s", b.cfg.MaxViewRecursionDepth, root)))
	}
	b.visited[root.String()] = true
	defer delete(b.visited, root.String())
	b.depth++
	defer func() { b.depth-- }()

	deps, err := b.catalog.DependentsOf(ctx, root)
	if err != nil {
		return nil, pingcaperrors.Trace(errors.Wrapf(err, "resolving dependents of %s", root))
	}

	views := make([]*ViewRecord, 0, len(deps))
	for _, dep := range deps {
		v, err := b.bindDependent(ctx, wctx, rootStorageID, rootMeta, dep)
		if err != nil {
			// Unwind any views already bound for this root before
			// propagating: their locks must not outlive a failed bind.
			for _, bound := range views {
				bound.Close()
			}
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (b *binder) bindDependent(ctx context.Context, wctx WriteContextPair, rootStorageID string, rootMeta MetadataSnapshot, dep Dependent) (*ViewRecord, error) {
	handle, err := b.catalog.Resolve(ctx, dep.Ref)
	if err != nil {
		return nil, pingcaperrors.Trace(errors.Wrapf(err, "resolving dependent table %s", dep.Ref))
	}

	stats := ViewStats{
		DisplayName: dep.Ref.String(),
		Kind:        viewKindOf(dep.Kind),
		Thread:      accounting.NewCurrentThread(b.client, dep.Ref.String()),
		EventTime:   time.Now(),
		Status:      ViewInit,
	}

	switch dep.Kind {
	case DependentMaterialized:
		return b.bindMaterialized(ctx, wctx, rootStorageID, rootMeta, dep, handle, stats)
	case DependentLive:
		return b.bindLive(ctx, wctx, dep, handle, stats)
	default:
		return b.bindDefault(ctx, wctx, dep, handle, stats)
	}
}

func (b *binder) bindMaterialized(ctx context.Context, wctx WriteContextPair, rootStorageID string, rootMeta MetadataSnapshot, dep Dependent, handle TableHandle, stats ViewStats) (*ViewRecord, error) {
	lock, err := AcquireShareLock(ctx, handle, b.queryID, time.Duration(b.cfg.ShareLockAcquireTimeout))
	if err != nil {
		return nil, err
	}

	viewMeta := handle.MetadataSnapshot()
	innerQuery, ok := viewMeta.SelectQuery()
	if !ok {
		lock.Release()
		return nil, errors.Errorf("materialized view %s has no stored select query", dep.Ref)
	}

	// Static analysis only: attach an empty single-block source carrying
	// the root's header so the planner can report the SELECT's output
	// header without a real batch, mirroring the original's
	// `InterpreterSelectQuery(..., SelectQueryOptions().analyze())`.
	headerSource, err := b.vsources.NewSingleBlockSource(rootStorageID, rootMeta.SampleHeader(), nil, Batch{})
	if err != nil {
		lock.Release()
		return nil, errors.Wrapf(err, "building header-analysis source for view %s", dep.Ref)
	}
	analyzeCtx := withViewSource(wctx.Select, headerSource)

	plan, err := b.planner.Plan(ctx, innerQuery, analyzeCtx)
	if err != nil {
		lock.Release()
		return nil, errors.Wrapf(err, "planning select query for view %s", dep.Ref)
	}

	// Insert only columns returned by the SELECT that are also physical
	// columns of the target — the spec §4.2 column-intersection rule.
	targetCols := viewMeta.Columns()
	selectHeader := plan.SampleHeader()
	var insertColumns []string
	for _, c := range selectHeader {
		if targetCols.HasPhysical(c.Name) {
			insertColumns = append(insertColumns, c.Name)
		}
	}

	sink, err := handle.Write(ctx, "", viewMeta, wctx.Insert)
	if err != nil {
		lock.Release()
		return nil, errors.Wrapf(err, "opening downstream sink for view %s", dep.Ref)
	}
	sink = &projectingSink{Sink: sink, columns: insertColumns}

	return &ViewRecord{
		InnerQuery: innerQuery,
		TableID:    dep.Ref,
		Downstream: sink,
		Lock:       lock,
		Stats:      stats,
	}, nil
}

func (b *binder) bindLive(ctx context.Context, wctx WriteContextPair, dep Dependent, handle TableHandle, stats ViewStats) (*ViewRecord, error) {
	nested := newBinder(b.catalog, b.planner, b.vsources, b.liveView, b.cfg, b.log, b.client, b.queryID)
	nested.visited, nested.depth = b.visited, b.depth

	downstream, err := newFanoutWriter(ctx, fanoutWriterParams{
		catalog:     b.catalog,
		planner:     b.planner,
		vsources:    b.vsources,
		liveView:    b.liveView,
		cfg:         b.cfg,
		log:         b.log,
		client:      b.client,
		queryID:     b.queryID,
		table:            handle,
		tableRef:         dep.Ref,
		noDirectDst:      true,
		isLiveViewSource: true,
		binder:           nested,
	}, wctx.Insert)
	if err != nil {
		return nil, err
	}

	return &ViewRecord{
		InnerQuery: "", // logging-only inner query text lives at the catalog layer
		TableID:    dep.Ref,
		Downstream: downstream,
		Stats:      stats,
	}, nil
}

func (b *binder) bindDefault(ctx context.Context, wctx WriteContextPair, dep Dependent, handle TableHandle, stats ViewStats) (*ViewRecord, error) {
	nested := newBinder(b.catalog, b.planner, b.vsources, b.liveView, b.cfg, b.log, b.client, b.queryID)
	nested.visited, nested.depth = b.visited, b.depth

	downstream, err := newFanoutWriter(ctx, fanoutWriterParams{
		catalog:     b.catalog,
		planner:     b.planner,
		vsources:    b.vsources,
		liveView:    b.liveView,
		cfg:         b.cfg,
		log:         b.log,
		client:      b.client,
		queryID:     b.queryID,
		table:       handle,
		tableRef:    dep.Ref,
		noDirectDst: false,
		binder:      nested,
	}, wctx.Insert)
	if err != nil {
		return nil, err
	}

	return &ViewRecord{
		TableID:    dep.Ref,
		Downstream: downstream,
		Stats:      stats,
	}, nil
}

// viewKindOf maps the Catalog's dependent classification onto the view
// record's own ViewKind. The two enums are declared separately because
// DependentKind is part of the Catalog collaborator's contract (spec §6)
// and ViewKind is internal telemetry vocabulary (spec §4.6); they happen
// to share an ordering, not an identity.
func viewKindOf(k DependentKind) ViewKind {
	switch k {
	case DependentMaterialized:
		return ViewMaterialized
	case DependentLive:
		return ViewLive
	default:
		return ViewDefault
	}
}

// projectingSink narrows every batch written through it to a fixed column
// list before delegating, implementing the spec §4.2 "insert only columns
// returned by select, intersected with target physical columns" rule.
type projectingSink struct {
	Sink
	columns []string
}

func (p *projectingSink) Write(ctx context.Context, b Batch) error {
	return p.Sink.Write(ctx, b.Project(p.columns))
}
