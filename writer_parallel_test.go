// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"testing"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/logger"
	"github.com/pingcap/failpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newParallelTestWriter is newTestWriter with ParallelViewProcessing turned
// on, for the scenarios below where sequential-only ordering would hide the
// thing under test.
func newParallelTestWriter(t *testing.T, cat *fakeCatalog, root TableRef) *FanoutWriter {
	t.Helper()
	cfg := *NewConfig()
	cfg.ParallelViewProcessing = true
	cfg.MaxThreads = 8
	w, err := NewFanoutWriter(
		context.Background(), cat,
		NewPassthroughPlanner(), NewVirtualSourceFactory(), NewDirectLiveViewWriter(),
		cfg, logger.NopLogger, accounting.NopClient, "test-query", root, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// TestParallelViewProcessingOverlapsStageExecution pins every view's block
// stage to a 50ms failpoint stall (viewStageSlow, boolean wildcard) and
// asserts the pool actually overlaps them rather than running the views one
// at a time: five views stalled 50ms each finish in well under 5*50ms when
// run through the worker pool.
func TestParallelViewProcessingOverlapsStageExecution(t *testing.T) {
	require.NoError(t, failpoint.Enable(
		"github.com/ekrasikov/viewfanout/viewStageSlow",
		"return(true)",
	))
	defer failpoint.Disable("github.com/ekrasikov/viewfanout/viewStageSlow")

	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	cat.addTable(root, &fakeTableHandle{storageID: "base-1", header: simpleHeader()})

	const n = 5
	for i := 0; i < n; i++ {
		dep := TableRef{Table: "dep" + string(rune('0'+i))}
		cat.addTable(dep, &fakeTableHandle{storageID: dep.Table + "-1", header: simpleHeader()})
		cat.addDependent(root, Dependent{Ref: dep, Kind: DependentDefault})
	}

	w := newParallelTestWriter(t, cat, root)
	require.NoError(t, w.Prefix(context.Background()))

	b := Batch{Columns: []Column{{Name: "a", Values: []interface{}{1}}, {Name: "b", Values: []interface{}{1}}}}

	start := time.Now()
	require.NoError(t, w.Write(context.Background(), b))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond,
		"5 views stalled 50ms each must overlap under a parallel pool, not sum to 250ms sequentially")
}

// TestParallelViewProcessingPropagatesFirstCatalogOrderFailure fails two
// views out of three under parallel processing and asserts the error
// rethrown by Write is deterministically the first one in catalog/bind
// order, rather than whichever goroutine happens to set its exception last
// -- exercising checkExceptionsInViews' walk over w.views, not completion
// order, as the tiebreak.
func TestParallelViewProcessingPropagatesFirstCatalogOrderFailure(t *testing.T) {
	require.NoError(t, failpoint.Enable(
		"github.com/ekrasikov/viewfanout/viewStageFail",
		`return("dep1,dep2")`,
	))
	defer failpoint.Disable("github.com/ekrasikov/viewfanout/viewStageFail")

	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	cat.addTable(root, &fakeTableHandle{storageID: "base-1", header: simpleHeader()})

	for _, name := range []string{"dep1", "dep2", "dep3"} {
		ref := TableRef{Table: name}
		cat.addTable(ref, &fakeTableHandle{storageID: name + "-1", header: simpleHeader()})
		cat.addDependent(root, Dependent{Ref: ref, Kind: DependentDefault})
	}

	w := newParallelTestWriter(t, cat, root)
	require.NoError(t, w.Prefix(context.Background()))

	b := Batch{Columns: []Column{{Name: "a", Values: []interface{}{1}}, {Name: "b", Values: []interface{}{1}}}}
	err := w.Write(context.Background(), b)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "while pushing to view dep1",
		"the first view in catalog order must win, even though dep2 finishes first")
	assert.NotContains(t, err.Error(), "dep2")
}
