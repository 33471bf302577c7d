// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package accounting

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusClient is a Client backed by a prometheus.Registerer: one
// CounterVec/HistogramVec pair labeled by the tag path (view name) rather
// than a metric-per-view, so cardinality stays bounded by the number of
// distinct views rather than the number of inserts. Selected over
// ExpvarClient via --metrics=prometheus on the apply command.
type PrometheusClient struct {
	reg  prometheus.Registerer
	tags []string

	counts  *prometheus.CounterVec
	timings *prometheus.HistogramVec
}

// NewPrometheusClient registers the view fan-out metric families on reg and
// returns a Client that reports into them.
func NewPrometheusClient(reg prometheus.Registerer) *PrometheusClient {
	c := &PrometheusClient{
		reg: reg,
		counts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "viewfanout",
			Name:      "events_total",
			Help:      "Rows/bytes counted by the view fan-out accounting layer, labeled by metric name and tag path.",
		}, []string{"metric", "tags"}),
		timings: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "viewfanout",
			Name:      "stage_duration_seconds",
			Help:      "Per-view stage durations (prefix/block/suffix), labeled by metric name and tag path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric", "tags"}),
	}
	reg.MustRegister(c.counts, c.timings)
	return c
}

func (c *PrometheusClient) WithTags(tags ...string) Client {
	return &PrometheusClient{
		reg:     c.reg,
		tags:    unionStrings(c.tags, tags),
		counts:  c.counts,
		timings: c.timings,
	}
}

func (c *PrometheusClient) tagLabel() string { return strings.Join(c.tags, ",") }

func (c *PrometheusClient) Count(name string, value int64) {
	c.counts.WithLabelValues(name, c.tagLabel()).Add(float64(value))
}

func (c *PrometheusClient) Timing(name string, value time.Duration) {
	c.timings.WithLabelValues(name, c.tagLabel()).Observe(value.Seconds())
}
