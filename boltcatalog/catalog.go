// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package boltcatalog is a bbolt-backed implementation of the viewfanout
// Catalog collaborator (spec.md §6 treats the catalog as purely external;
// this package exists so the core is runnable stand-alone, without a full
// metadata service behind it).
package boltcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ekrasikov/viewfanout"
	"github.com/ekrasikov/viewfanout/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	dependentsBucket = []byte("dependents")
	tablesBucket      = []byte("tables")
)

// tableRecord is the persisted shape of one table's registration: its
// column set and, for materialized views, its stored SELECT.
type tableRecord struct {
	Columns     []string `json:"columns"`
	InnerQuery  string   `json:"inner_query,omitempty"`
	StorageID   string   `json:"storage_id"`
	Deduplicate bool     `json:"deduplicate"`
}

// dependentRecord is one entry of a table's persisted dependents list.
type dependentRecord struct {
	Database string `json:"database"`
	Table    string `json:"table"`
	Kind     int    `json:"kind"`
}

// Catalog is a bbolt-backed viewfanout.Catalog. It knows nothing about
// locking, insert execution, or query planning — only the dependency graph
// and the column layout needed to satisfy viewfanout.Catalog and
// viewfanout.MetadataSnapshot.
type Catalog struct {
	db *bolt.DB

	mu      sync.RWMutex
	handles map[string]*tableHandle
}

// Open opens (creating if necessary) a bbolt database at path and returns a
// Catalog backed by it.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt catalog at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dependentsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(tablesBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing bolt catalog buckets")
	}
	return &Catalog{db: db, handles: map[string]*tableHandle{}}, nil
}

// Close closes the underlying bbolt database.
func (c *Catalog) Close() error { return c.db.Close() }

// RegisterTable persists a table's column layout and, for materialized
// views, its inner query. It is the write side of the catalog; production
// deployments would instead derive this from DDL state, but nothing in
// viewfanout.Catalog requires that — this package owns its own write path.
func (c *Catalog) RegisterTable(ref viewfanout.TableRef, storageID string, columns []string, innerQuery string, deduplicate bool) error {
	rec := tableRecord{Columns: columns, InnerQuery: innerQuery, StorageID: storageID, Deduplicate: deduplicate}
	buf, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling table record")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tablesBucket).Put([]byte(ref.String()), buf)
	})
}

// RegisterDependent appends dep to parent's dependents list.
func (c *Catalog) RegisterDependent(parent viewfanout.TableRef, dep viewfanout.Dependent) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dependentsBucket)
		key := []byte(parent.String())

		var existing []dependentRecord
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &existing); err != nil {
				return errors.Wrap(err, "unmarshaling existing dependents")
			}
		}
		existing = append(existing, dependentRecord{
			Database: dep.Ref.Database,
			Table:    dep.Ref.Table,
			Kind:     int(dep.Kind),
		})
		buf, err := json.Marshal(existing)
		if err != nil {
			return errors.Wrap(err, "marshaling dependents")
		}
		return b.Put(key, buf)
	})
}

// DependentsOf implements viewfanout.Catalog.
func (c *Catalog) DependentsOf(ctx context.Context, ref viewfanout.TableRef) ([]viewfanout.Dependent, error) {
	var out []viewfanout.Dependent
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(dependentsBucket).Get([]byte(ref.String()))
		if raw == nil {
			return nil
		}
		var recs []dependentRecord
		if err := json.Unmarshal(raw, &recs); err != nil {
			return err
		}
		for _, r := range recs {
			out = append(out, viewfanout.Dependent{
				Ref:  viewfanout.TableRef{Database: r.Database, Table: r.Table},
				Kind: viewfanout.DependentKind(r.Kind),
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading dependents from bolt catalog")
	}
	return out, nil
}

// Resolve implements viewfanout.Catalog, returning a stable *tableHandle per
// table name so that handle.LockForShare's refcounting behaves sanely
// across repeated Resolve calls for the same table within one process.
func (c *Catalog) Resolve(ctx context.Context, ref viewfanout.TableRef) (viewfanout.TableHandle, error) {
	c.mu.RLock()
	if h, ok := c.handles[ref.String()]; ok {
		c.mu.RUnlock()
		return h, nil
	}
	c.mu.RUnlock()

	var rec tableRecord
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(tablesBucket).Get([]byte(ref.String()))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading table record from bolt catalog")
	}
	if !found {
		return nil, errors.New(viewfanout.ErrTableDisappeared, fmt.Sprintf("table %s not registered in bolt catalog", ref))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[ref.String()]; ok {
		return h, nil
	}
	h := newTableHandle(ref, rec)
	c.handles[ref.String()] = h
	return h, nil
}
