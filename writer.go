// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"sync"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/errors"
	"github.com/ekrasikov/viewfanout/logger"
	"golang.org/x/sync/errgroup"
)

// FanoutWriter is the central component of the core (spec §4.4): it owns
// the view records, the direct writer to the base table (if any), and the
// orchestration of prefix/body/suffix phases across all views.
type FanoutWriter struct {
	table    TableHandle
	tableRef TableRef
	meta     MetadataSnapshot

	locks      []ShareLock
	direct     Sink
	replicated ReplicatedSink
	isLiveView bool

	wctx  WriteContextPair
	views []*ViewRecord

	cfg       Config
	log       logger.Logger
	client    accounting.Client
	telemetry *TelemetrySink
	liveView  LiveViewWriter
	planner   Planner
	vsources  VirtualSourceFactory

	startedAt time.Time

	closeMu sync.Mutex
	closed  bool
}

// fanoutWriterParams bundles the construction-time collaborators shared
// between the top-level NewFanoutWriter and the binder's recursive
// construction of nested writers for Live and Default dependents.
type fanoutWriterParams struct {
	catalog  Catalog
	planner  Planner
	vsources VirtualSourceFactory
	liveView LiveViewWriter
	cfg      Config
	log      logger.Logger
	client   accounting.Client
	queryID  string

	table       TableHandle
	tableRef    TableRef
	noDirectDst bool
	binder      *binder

	// isLiveViewSource marks that table itself is a live view: Write hands
	// each batch to the LiveViewWriter and returns, without using a direct
	// sink or the view list (spec §4.4 write() step 2).
	isLiveViewSource bool
}

// NewFanoutWriter constructs the top-level Fan-out Writer for an insert
// into tableRef (spec §3 "Writer state", §4). It acquires a share lock on
// the base table, resolves and binds every dependent, and opens the direct
// sink unless noDirectDst is set.
func NewFanoutWriter(ctx context.Context, catalog Catalog, planner Planner, vsources VirtualSourceFactory, liveView LiveViewWriter, cfg Config, log logger.Logger, client accounting.Client, queryID string, tableRef TableRef, noDirectDst bool) (*FanoutWriter, error) {
	table, err := catalog.Resolve(ctx, tableRef)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving base table %s", tableRef)
	}
	b := newBinder(catalog, planner, vsources, liveView, cfg, log, client, queryID)
	return newFanoutWriter(ctx, fanoutWriterParams{
		catalog: catalog, planner: planner, vsources: vsources, liveView: liveView,
		cfg: cfg, log: log, client: client, queryID: queryID,
		table: table, tableRef: tableRef, noDirectDst: noDirectDst, binder: b,
	}, ctx)
}

func newFanoutWriter(ctx context.Context, p fanoutWriterParams, callerCtx context.Context) (*FanoutWriter, error) {
	w := &FanoutWriter{
		table:      p.table,
		tableRef:   p.tableRef,
		meta:       p.table.MetadataSnapshot(),
		cfg:        p.cfg,
		log:        p.log,
		client:     p.client,
		liveView:   p.liveView,
		planner:    p.planner,
		vsources:   p.vsources,
		isLiveView: p.isLiveViewSource,
		startedAt:  time.Now(),
	}
	w.telemetry = NewTelemetrySink(p.cfg, p.log)

	lock, err := AcquireShareLock(ctx, p.table, p.queryID, time.Duration(p.cfg.ShareLockAcquireTimeout))
	if err != nil {
		return nil, err
	}
	w.locks = append(w.locks, lock)

	rootSupportsDedup := !p.noDirectDst && p.table.SupportsDeduplication()
	w.wctx = NewWriteContextPair(callerCtx, p.cfg, rootSupportsDedup, p.cfg.DeduplicateBlocksInDependentMaterializedViews)

	views, err := p.binder.Bind(ctx, w.wctx, p.tableRef, p.table.StorageID(), w.meta)
	if err != nil {
		for _, l := range w.locks {
			l.Release()
		}
		return nil, err
	}
	w.views = views

	if !p.noDirectDst {
		// The direct sink is the writer's own table, not a dependent, so it
		// gets the writer's own un-overridden context -- the insert-context
		// overrides in w.wctx.Insert exist only for dependents' sinks (spec
		// §4.3; original PushingToViewsBlockOutputStream.cpp's own
		// storage->write(query_ptr, ..., getContext()) call).
		sink, err := p.table.Write(ctx, "", w.meta, ctx)
		if err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "opening direct sink for %s", p.tableRef)
		}
		w.direct = sink
		if rs, ok := sink.(ReplicatedSink); ok {
			w.replicated = rs
		}
	}

	return w, nil
}

// Header reports the column layout callers must provide (spec §4.4): the
// base table's declared columns if writing directly, or its columns
// extended with engine-provided virtual columns otherwise.
func (w *FanoutWriter) Header() Header {
	if w.direct != nil {
		return w.meta.SampleHeader()
	}
	return w.meta.SampleHeaderWithVirtuals(w.table.Virtuals())
}

// Prefix runs the direct sink's prefix (if any), then every view's prefix
// stage sequentially — prefix never runs in parallel, keeping setup
// failures deterministic and avoiding lock interleaving (spec §4.4).
func (w *FanoutWriter) Prefix(ctx context.Context) error {
	if w.direct != nil {
		if err := w.direct.Prefix(ctx); err != nil {
			return err
		}
	}

	for _, v := range w.views {
		runStage(ctx, v, stagePrefix, func(ctx context.Context) error {
			return v.Downstream.Prefix(ctx)
		})
	}

	return w.checkExceptionsInViews()
}

// Write validates the batch's shape, writes it to the direct sink, and
// fans it out to every view (spec §4.4 write()).
func (w *FanoutWriter) Write(ctx context.Context, b Batch) error {
	if err := ValidateArraySizes(b); err != nil {
		return err
	}

	if w.isLiveView {
		return w.liveView.WriteIntoLiveView(ctx, w.table, b)
	}

	if w.direct != nil {
		if err := w.direct.Write(ctx, b); err != nil {
			return err
		}
	}

	if len(w.views) == 0 {
		return nil
	}

	if !w.cfg.DeduplicateBlocksInDependentMaterializedViews && w.replicated != nil && w.replicated.LastBlockWasDuplicate() {
		return nil
	}

	maxThreads := w.poolSize()
	w.runViews(maxThreads, func(v *ViewRecord) {
		w.processBlock(ctx, b, v)
	})

	return w.checkExceptionsInViews()
}

// Suffix is symmetric to Prefix, but stages may run in parallel, because
// suffix commonly triggers flushes whose latency is worth overlapping
// (spec §4.4).
func (w *FanoutWriter) Suffix(ctx context.Context) error {
	if w.direct != nil {
		if err := w.direct.Suffix(ctx); err != nil {
			return err
		}
	}

	if len(w.views) == 0 {
		return nil
	}

	maxThreads := w.poolSize()
	w.runViews(maxThreads, func(v *ViewRecord) {
		runStage(ctx, v, stageSuffix, func(ctx context.Context) error {
			return v.Downstream.Suffix(ctx)
		})
	})

	if err := w.checkExceptionsInViews(); err != nil {
		return err
	}

	if len(w.views) > 1 {
		debugOverallElapsed(w.log, w.tableRef.String(), len(w.views), time.Since(w.startedAt).Milliseconds())
	}
	w.telemetry.LogViews(w.tableRef.String(), w.views)
	return nil
}

// Flush flushes the direct sink and every view's downstream sink,
// sequentially, best-effort: errors in one view's flush do not prevent the
// next, and the first error is rethrown after all attempts (spec §4.4).
func (w *FanoutWriter) Flush(ctx context.Context) error {
	var first error
	if w.direct != nil {
		if err := w.direct.Flush(ctx); err != nil {
			first = err
		}
	}
	for _, v := range w.views {
		if err := v.Downstream.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close releases the writer's share locks and closes every view record.
// The caller's accounting context must survive this call (spec §5, §9).
// View records are closed and the view list cleared first, then the
// writer's own locks are released. Nothing is snapshotted or restored:
// accounting.WithCurrent never writes back to a parent context, so closing
// view records cannot disturb the caller's accounting thread.
func (w *FanoutWriter) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var first error
	for _, v := range w.views {
		if err := v.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.views = nil
	for _, l := range w.locks {
		l.Release()
	}
	return first
}

func (w *FanoutWriter) poolSize() int {
	if !w.cfg.ParallelViewProcessing {
		return 1
	}
	if len(w.views) < w.cfg.MaxThreads {
		return len(w.views)
	}
	return w.cfg.MaxThreads
}

// runViews executes fn for every view, using a bounded worker pool sized
// maxThreads when more than one view is present; otherwise sequentially.
// Grounded on the teacher's guard-channel + errgroup pattern in api.go's
// ImportWithTx.
func (w *FanoutWriter) runViews(maxThreads int, fn func(v *ViewRecord)) {
	if maxThreads <= 1 || len(w.views) <= 1 {
		for _, v := range w.views {
			fn(v)
		}
		return
	}

	var eg errgroup.Group
	guard := make(chan struct{}, maxThreads)
	for _, v := range w.views {
		v := v
		guard <- struct{}{}
		eg.Go(func() error {
			defer func() { <-guard }()
			fn(v)
			return nil
		})
	}
	_ = eg.Wait()
}

// processBlock is the per-view block stage body (spec §4.5 "block body").
func (w *FanoutWriter) processBlock(ctx context.Context, b Batch, v *ViewRecord) {
	runStage(ctx, v, stageBlock, func(ctx context.Context) error {
		if v.InnerQuery == "" {
			if err := v.Downstream.Write(ctx, b); err != nil {
				return err
			}
			v.Stats.Thread.AddRows(int64(b.NumRows()))
			v.Stats.Thread.AddBytes(b.ByteSize())
			return nil
		}
		return w.processQueryBlock(ctx, b, v)
	})
}

func (w *FanoutWriter) processQueryBlock(ctx context.Context, b Batch, v *ViewRecord) error {
	// Build a single-block read-only table wrapping the inbound batch,
	// carrying the base table's storage id, column layout, and virtuals
	// (spec §4.5 "block body", §6 "Virtual-source factory"), then attach
	// it to a local copy of the select context so the planner can resolve
	// the view's inner query against it without touching w.wctx.Select.
	source, err := w.vsources.NewSingleBlockSource(w.table.StorageID(), w.meta.SampleHeader(), w.table.Virtuals(), b)
	if err != nil {
		return err
	}
	localSelectCtx := withViewSource(w.wctx.Select, source)

	plan, err := w.planner.Plan(ctx, v.InnerQuery, localSelectCtx)
	if err != nil {
		return err
	}

	rows, err := plan.Execute(ctx)
	if err != nil {
		return err
	}

	insertSettings := InsertSettingsFromContext(w.wctx.Insert)
	sq := NewSquasher(insertSettings.MinInsertBlockSizeRows, insertSettings.MinInsertBlockSizeBytes)
	conv := NewConverter(v.Downstream.Header())

	for {
		next, ok, err := rows.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if out, ready := sq.Push(next); ready {
			if err := w.emitConverted(ctx, conv, v, out); err != nil {
				return err
			}
		}
	}
	if out, ready := sq.Flush(); ready {
		if err := w.emitConverted(ctx, conv, v, out); err != nil {
			return err
		}
	}
	return nil
}

func (w *FanoutWriter) emitConverted(ctx context.Context, conv *Converter, v *ViewRecord, b Batch) error {
	out := conv.Convert(b)
	if err := ValidateArraySizes(out); err != nil {
		return err
	}
	if err := v.Downstream.Write(ctx, out); err != nil {
		return err
	}
	v.Stats.Thread.AddRows(int64(out.NumRows()))
	v.Stats.Thread.AddBytes(out.ByteSize())
	return nil
}

// checkExceptionsInViews logs the full view set once, then rethrows by
// walking views in catalog order and re-raising the first one that
// captured an exception (spec §7 propagation policy, grounded on the
// source's check_exceptions_in_views).
func (w *FanoutWriter) checkExceptionsInViews() error {
	var first error
	for _, v := range w.views {
		if err := v.Exception(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		w.telemetry.LogViews(w.tableRef.String(), w.views)
	}
	return first
}
