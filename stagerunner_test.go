// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"strings"
	"testing"

	"github.com/pingcap/failpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStageAdvancesStatusOnSuccess(t *testing.T) {
	v := &ViewRecord{TableID: TableRef{Table: "mv1"}, Stats: ViewStats{Thread: newTestThread()}}
	runStage(context.Background(), v, stageBlock, func(ctx context.Context) error { return nil })
	assert.Equal(t, ViewBlockWritten, v.snapshotStats().Status)
	assert.NoError(t, v.Exception())
}

func TestRunStageCapturesErrorAndMarksFailed(t *testing.T) {
	v := &ViewRecord{TableID: TableRef{Table: "mv1"}, Stats: ViewStats{Thread: newTestThread()}}
	runStage(context.Background(), v, stageBlock, func(ctx context.Context) error {
		return assertableErr
	})
	require.True(t, v.Failed())
	require.Error(t, v.Exception())
	assert.True(t, strings.Contains(v.Exception().Error(), "while pushing to view mv1"))
}

func TestRunStageSkipsAlreadyFailedView(t *testing.T) {
	v := &ViewRecord{TableID: TableRef{Table: "mv1"}, Stats: ViewStats{Thread: newTestThread()}}
	v.setException(assertableErr)

	called := false
	runStage(context.Background(), v, stageSuffix, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "a failed view's remaining stages must not run")
}

func TestRunStageFailpointInjection(t *testing.T) {
	v := &ViewRecord{TableID: TableRef{Table: "mv_injected"}, Stats: ViewStats{Thread: newTestThread()}}
	require.NoError(t, failpoint.Enable(
		"github.com/ekrasikov/viewfanout/viewStageFail",
		`return("mv_injected")`,
	))
	defer failpoint.Disable("github.com/ekrasikov/viewfanout/viewStageFail")

	runStage(context.Background(), v, stageBlock, func(ctx context.Context) error { return nil })
	require.True(t, v.Failed())
	assert.Contains(t, v.Exception().Error(), "while pushing to view mv_injected")
}

func TestRunStagePrefixVerb(t *testing.T) {
	v := &ViewRecord{TableID: TableRef{Table: "mv1"}, Stats: ViewStats{Thread: newTestThread()}}
	runStage(context.Background(), v, stagePrefix, func(ctx context.Context) error { return assertableErr })
	assert.Contains(t, v.Exception().Error(), "while writing prefix to view mv1")
}

var assertableErr = errAssertable{}

type errAssertable struct{}

func (errAssertable) Error() string { return "boom" }
