// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"strings"
	"time"

	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/errors"
	"github.com/pingcap/failpoint"
)

// stage identifies which of a view's three stage bodies is being executed,
// purely for error-message annotation (spec §4.5, §7 "annotated with the
// view's display name").
type stage int

const (
	stagePrefix stage = iota
	stageBlock
	stageSuffix
)

func (s stage) verb() string {
	switch s {
	case stagePrefix:
		return "while writing prefix to view"
	case stageSuffix:
		return "while writing suffix to view"
	default:
		return "while pushing to view"
	}
}

// runStage executes body for v under v's own accounting context, guaranteeing
// restoration of ctx's accounting thread on every exit path (spec §4.5,
// P1). It never lets body's error propagate out: failures are captured into
// v.exception and the view is marked Failed; propagation is the writer's
// responsibility (spec §4.5 step 5).
//
// The C++ original swaps a thread_local pointer and restores it in a
// SCOPE_EXIT. Since a goroutine's accounting context is carried as a
// context.Context value rather than a mutable slot, "restore" here just
// means: derive a child context for body, and never let that child context
// escape back into the caller's ctx. See accounting.WithCurrent.
func runStage(ctx context.Context, v *ViewRecord, s stage, body func(ctx context.Context) error) {
	if v.Failed() {
		return
	}

	v.Stats.Thread.Reset()
	stageCtx := accounting.WithCurrent(ctx, v.Stats.Thread)

	start := time.Now()
	err := runStageBody(stageCtx, v, s, body)
	v.addElapsed(time.Since(start))
	v.Stats.Thread.AddWall(time.Since(start))

	if err != nil {
		v.setException(errors.Wrapf(err, "%s %s", s.verb(), v.TableID))
		return
	}
	switch s {
	case stagePrefix:
		v.setStatus(ViewPrefixWritten)
	case stageBlock:
		v.setStatus(ViewBlockWritten)
	case stageSuffix:
		v.setStatus(ViewSuffixWritten)
	}
}

// runStageBody wraps body with deterministic fault-injection points so
// scenario tests can force a specific view's stage to fail or stall without
// a bespoke stub type per test (spec §8 scenarios 3, 5, 6). The failpoints
// are evaluated with failpoint.Eval under their full names, so
// failpoint.Enable reaches them in a plain build without a failpoint-ctl
// source rewrite.
func runStageBody(ctx context.Context, v *ViewRecord, s stage, body func(ctx context.Context) error) error {
	const fpPath = "github.com/ekrasikov/viewfanout/"
	var injected error
	if val, fpErr := failpoint.Eval(fpPath + "viewStageFail"); fpErr == nil {
		name, _ := val.(string)
		for _, want := range strings.Split(name, ",") {
			if want == v.TableID.String() {
				injected = errors.Errorf("boom")
				break
			}
		}
	}
	if injected != nil {
		return injected
	}

	if val, fpErr := failpoint.Eval(fpPath + "viewStageSlow"); fpErr == nil {
		switch want := val.(type) {
		case string:
			if want == v.TableID.String() {
				time.Sleep(50 * time.Millisecond)
			}
		case bool:
			if want {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}

	return body(ctx)
}
