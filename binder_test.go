// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"testing"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/logger"
	"github.com/ekrasikov/viewfanout/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindMaterializedViewProjectsColumns(t *testing.T) {
	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	mv := TableRef{Table: "mv"}

	baseHandle := &fakeTableHandle{storageID: "base-1", header: Header{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	// The view's target only physically stores "a" and "c": "b" must be
	// dropped by the SELECT-output/physical-column intersection rule.
	mvHandle := &fakeTableHandle{storageID: "mv-1", header: Header{{Name: "a"}, {Name: "c"}}, innerQuery: "SELECT * FROM base"}
	cat.addTable(root, baseHandle)
	cat.addTable(mv, mvHandle)
	cat.addDependent(root, Dependent{Ref: mv, Kind: DependentMaterialized})

	w := newTestWriter(t, cat, root, false)
	require.NoError(t, w.Prefix(context.Background()))

	b := Batch{Columns: []Column{
		{Name: "a", Values: []interface{}{1}},
		{Name: "b", Values: []interface{}{2}},
		{Name: "c", Values: []interface{}{3}},
	}}
	require.NoError(t, w.Write(context.Background(), b))
	require.NoError(t, w.Suffix(context.Background()))

	batches := mvHandle.lastSink.snapshotBatches()
	require.Len(t, batches, 1)
	names := batches[0].Header().Names()
	assert.ElementsMatch(t, []string{"a", "c"}, names)
}

func TestBindMaterializedViewWithoutStoredQueryFails(t *testing.T) {
	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	mv := TableRef{Table: "mv"}

	cat.addTable(root, &fakeTableHandle{storageID: "base-1", header: simpleHeader()})
	cat.addTable(mv, &fakeTableHandle{storageID: "mv-1", header: simpleHeader()}) // no innerQuery
	cat.addDependent(root, Dependent{Ref: mv, Kind: DependentMaterialized})

	_, err := NewFanoutWriter(
		context.Background(), cat,
		NewPassthroughPlanner(), NewVirtualSourceFactory(), NewDirectLiveViewWriter(),
		*NewConfig(), logger.NopLogger, accounting.NopClient, "q1", root, false,
	)
	require.Error(t, err)
}

func TestBindLiveViewWritesDirectlyWithoutFanningOutFurther(t *testing.T) {
	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	live := TableRef{Table: "lv"}

	baseHandle := &fakeTableHandle{storageID: "base-1", header: simpleHeader()}
	liveHandle := &fakeTableHandle{storageID: "lv-1", header: simpleHeader()}
	cat.addTable(root, baseHandle)
	cat.addTable(live, liveHandle)
	cat.addDependent(root, Dependent{Ref: live, Kind: DependentLive})

	w := newTestWriter(t, cat, root, false)
	require.NoError(t, w.Prefix(context.Background()))

	b := Batch{Columns: []Column{{Name: "a", Values: []interface{}{1}}, {Name: "b", Values: []interface{}{2}}}}
	require.NoError(t, w.Write(context.Background(), b))

	batches := liveHandle.lastSink.snapshotBatches()
	require.Len(t, batches, 1)
	assert.True(t, liveHandle.lastSink.prefixed, "directLiveViewWriter drives prefix/write/suffix/flush itself")
	assert.True(t, liveHandle.lastSink.suffixed)
}

func TestAcquireShareLockTimesOut(t *testing.T) {
	cat := newFakeCatalog()
	root := TableRef{Table: "base"}
	cat.addTable(root, &fakeTableHandle{storageID: "base-1", header: simpleHeader(), lockTimeout: true})

	cfg := *NewConfig()
	cfg.ShareLockAcquireTimeout = toml.Duration(20 * time.Millisecond)

	_, err := NewFanoutWriter(
		context.Background(), cat,
		NewPassthroughPlanner(), NewVirtualSourceFactory(), NewDirectLiveViewWriter(),
		cfg, logger.NopLogger, accounting.NopClient, "q1", root, false,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share lock acquisition timed out")
}
