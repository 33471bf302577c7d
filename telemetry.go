// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"fmt"

	"github.com/ekrasikov/viewfanout/logger"
	"go.uber.org/zap"
)

// TelemetrySink emits one structured record per view per insert, gated by
// LogQueries/LogQueryViews and the minimum-query-duration threshold (spec
// §4.6). Exceptions while logging one view must never prevent logging the
// rest, and must never propagate to the caller — grounded on the source's
// own `catch (...) { tryLogCurrentException(...) }` around each view's
// log call.
type TelemetrySink struct {
	cfg Config
	log logger.Logger
}

// NewTelemetrySink returns a sink that logs through log.
func NewTelemetrySink(cfg Config, log logger.Logger) *TelemetrySink {
	return &TelemetrySink{cfg: cfg, log: log}
}

// LogViews emits a record for each view in views whose elapsed time exceeds
// the configured threshold. sourceTable is the base table display name,
// used only for the log line's context.
func (t *TelemetrySink) LogViews(sourceTable string, views []*ViewRecord) {
	if len(views) == 0 || !t.cfg.LogQueries || !t.cfg.LogQueryViews {
		return
	}
	for _, v := range views {
		t.logOne(sourceTable, v)
	}
}

func (t *TelemetrySink) logOne(sourceTable string, v *ViewRecord) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("recovered panic while logging view telemetry for %s: %v", v.TableID, r)
		}
	}()

	stats := v.snapshotStats()
	if t.cfg.MinimumQueryDurationMS > 0 && stats.ElapsedMS <= t.cfg.MinimumQueryDurationMS {
		return
	}

	var excText string
	if err := v.Exception(); err != nil {
		excText = err.Error()
	}

	rows, bytes, wall := v.Stats.Thread.Snapshot()

	if zl, ok := t.log.(interface{ Zap() *zap.Logger }); ok {
		fields := []zap.Field{
			zap.String("source_table", sourceTable),
			zap.String("view", stats.DisplayName),
			zap.String("view_type", stats.Kind.String()),
			zap.String("status", stats.Status.String()),
			zap.Int64("elapsed_ms", stats.ElapsedMS),
			zap.Time("event_time", stats.EventTime),
			zap.Int64("rows_written", rows),
			zap.Int64("bytes_written", bytes),
			zap.Duration("wall_time", wall),
		}
		if excText != "" {
			fields = append(fields, zap.String("exception", excText))
		}
		zl.Zap().Info("query_views", fields...)
		return
	}

	if excText != "" {
		t.log.Infof("query_views: source=%s view=%s type=%s status=%s elapsed_ms=%d rows=%d bytes=%d exception=%s",
			sourceTable, stats.DisplayName, stats.Kind, stats.Status, stats.ElapsedMS, rows, bytes, excText)
		return
	}
	t.log.Infof("query_views: source=%s view=%s type=%s status=%s elapsed_ms=%d rows=%d bytes=%d",
		sourceTable, stats.DisplayName, stats.Kind, stats.Status, stats.ElapsedMS, rows, bytes)
}

// debugOverallElapsed logs the aggregate wall time for a multi-view suffix,
// matching the source's LOG_DEBUG("Pushing from {} to {} views took {} ms.").
func debugOverallElapsed(log logger.Logger, sourceTable string, numViews int, elapsedMS int64) {
	log.Debugf("pushing from %s to %d views took %s", sourceTable, numViews, fmt.Sprintf("%dms", elapsedMS))
}
