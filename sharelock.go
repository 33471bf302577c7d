// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ekrasikov/viewfanout/errors"
	pingcaperrors "github.com/pingcap/errors"
)

const (
	// ErrLockTimeout is returned when a shared lock cannot be acquired
	// within the caller-provided timeout. Fatal for the whole insert.
	ErrLockTimeout errors.Code = "LockTimeout"
)

// ShareLock is a reference-counted token acquired from a table for the
// duration of an insert. Its lifetime is at least the lifetime of the
// Fan-out Writer that acquired it; it is released only at writer
// destruction (spec §3, I1).
type ShareLock interface {
	// Release drops this handle's reference. Safe to call more than once.
	Release()
}

// refCountedLock is a ShareLock over a reference count shared by several
// handles: release runs when the last handle is released. No TableHandle in
// this repository returns one (the bolt catalog and the test fakes have
// their own ShareLock types); a TableHandle may return any ShareLock it
// likes, and the writer never downcasts it.
type refCountedLock struct {
	refs     *int32
	release  func()
	released int32
}

func (l *refCountedLock) Release() {
	if !atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		return
	}
	if atomic.AddInt32(l.refs, -1) == 0 {
		l.release()
	}
}

// AcquireShareLock is a convenience wrapper used by binder.go and writer.go
// construction: it calls handle.LockForShare with the configured timeout
// and turns a context-deadline style failure into ErrLockTimeout, traced
// with pingcap/errors so the recursive binder call chain keeps a stack.
func AcquireShareLock(ctx context.Context, handle TableHandle, queryID string, timeout time.Duration) (ShareLock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		lock ShareLock
		err  error
	}
	done := make(chan result, 1)
	go func() {
		lock, err := handle.LockForShare(lockCtx, queryID, timeout)
		done <- result{lock, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, pingcaperrors.Trace(errors.Wrap(r.err, "acquiring share lock"))
		}
		return r.lock, nil
	case <-lockCtx.Done():
		return nil, pingcaperrors.Trace(errors.New(ErrLockTimeout, "share lock acquisition timed out"))
	}
}
