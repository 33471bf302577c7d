// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"context"
	"strings"

	"github.com/ekrasikov/viewfanout/errors"
)

// passthroughPlanner is a minimal stand-in for the real query planner,
// which spec §1 lists as an out-of-scope external collaborator: "we do not
// specify how the planner builds an execution graph from a view's inner
// query; we specify only what the core requires of whatever object
// represents that graph." It recognizes only the trivial `SELECT * FROM
// <table>` inner query used by spec §8's end-to-end scenarios, returning
// the view source's batch unchanged. Anything else is rejected so that a
// caller wiring a real planner in its place notices immediately.
type passthroughPlanner struct{}

// NewPassthroughPlanner returns the demo Planner used when no real query
// planner/executor is wired in.
func NewPassthroughPlanner() Planner { return passthroughPlanner{} }

func (passthroughPlanner) Plan(ctx context.Context, innerQuery string, selectCtx context.Context) (QueryPlan, error) {
	f := strings.Fields(innerQuery)
	if len(f) != 4 || !strings.EqualFold(f[0], "SELECT") || f[1] != "*" || !strings.EqualFold(f[2], "FROM") {
		return nil, errors.Errorf("passthrough planner supports only SELECT * FROM <table>, got %q", innerQuery)
	}
	source, ok := ViewSource(selectCtx)
	if !ok {
		return nil, errors.Errorf("passthrough planner requires a virtual source attached to the select context")
	}
	return &passthroughPlan{source: source}, nil
}

type passthroughPlan struct {
	source TableHandle
}

func (p *passthroughPlan) SampleHeader() Header {
	return p.source.MetadataSnapshot().SampleHeader()
}

func (p *passthroughPlan) Execute(ctx context.Context) (BatchSource, error) {
	sbt, ok := p.source.(*singleBlockTable)
	if !ok {
		return nil, errors.Errorf("passthrough planner's source is not a single-block virtual source")
	}
	return &inMemoryBatchSource{b: sbt.batch}, nil
}
