// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package boltcatalog

import (
	"context"
	"path/filepath"
	"testing"

	viewfanout "github.com/ekrasikov/viewfanout"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestRegisterAndResolveTable(t *testing.T) {
	cat := openTestCatalog(t)
	ref := viewfanout.TableRef{Table: "base"}
	require.NoError(t, cat.RegisterTable(ref, "storage-1", []string{"a", "b"}, "", false))

	handle, err := cat.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "storage-1", handle.StorageID())
	require.ElementsMatch(t, []string{"a", "b"}, handle.MetadataSnapshot().SampleHeader().Names())
}

func TestResolveUnknownTableFails(t *testing.T) {
	cat := openTestCatalog(t)
	_, err := cat.Resolve(context.Background(), viewfanout.TableRef{Table: "missing"})
	require.Error(t, err)
}

func TestRegisterAndListDependents(t *testing.T) {
	cat := openTestCatalog(t)
	root := viewfanout.TableRef{Table: "base"}
	mv := viewfanout.TableRef{Table: "mv"}

	require.NoError(t, cat.RegisterDependent(root, viewfanout.Dependent{Ref: mv, Kind: viewfanout.DependentMaterialized}))

	deps, err := cat.DependentsOf(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, mv, deps[0].Ref)
	require.Equal(t, viewfanout.DependentMaterialized, deps[0].Kind)
}

func TestResolveReturnsStableHandle(t *testing.T) {
	cat := openTestCatalog(t)
	ref := viewfanout.TableRef{Table: "base"}
	require.NoError(t, cat.RegisterTable(ref, "storage-1", []string{"a"}, "", false))

	h1, err := cat.Resolve(context.Background(), ref)
	require.NoError(t, err)
	h2, err := cat.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Same(t, h1, h2)
}
