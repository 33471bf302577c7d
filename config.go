// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"runtime"

	"github.com/ekrasikov/viewfanout/toml"
)

const (
	// DefaultMaxThreads bounds the worker pool used for parallel view
	// processing when no override is given.
	DefaultMaxThreads = 16
	// DefaultMinimumQueryDurationMS is the telemetry emission threshold.
	DefaultMinimumQueryDurationMS = 0
	// DefaultShareLockAcquireTimeout is how long a writer waits to lock a
	// table for share before failing construction.
	DefaultShareLockAcquireTimeout = toml.Duration(5e9) // 5s, expressed in ns
	// DefaultMaxViewRecursionDepth bounds dependents-of-dependents binding.
	DefaultMaxViewRecursionDepth = 100
)

// Config holds the view fan-out core's tunables. It mirrors the shape of
// the teacher's Config: a flat struct with toml tags, a NewConfig()
// defaults constructor, and a Validate() pass, read via spf13/viper and
// bound to spf13/cobra flags in cmd/root.go.
type Config struct {
	// MaxThreads caps the worker pool size for parallel write/suffix
	// phases (spec §5).
	MaxThreads int `toml:"max-threads"`
	// ParallelViewProcessing gates whether that pool is used at all; when
	// false, views are always processed sequentially.
	ParallelViewProcessing bool `toml:"parallel-view-processing"`

	// MinimumQueryDurationMS is the per-view elapsed-time threshold below
	// which the telemetry sink does not emit a record (spec §4.6).
	MinimumQueryDurationMS int64 `toml:"minimum-query-duration-ms"`
	// LogQueries and LogQueryViews independently gate the telemetry sink,
	// matching the original's two-settings gate.
	LogQueries    bool `toml:"log-queries"`
	LogQueryViews bool `toml:"log-query-views"`

	// DeduplicateBlocksInDependentMaterializedViews, when false, lets the
	// writer disable deduplication on the insert context for dependents
	// of a root table that already deduplicates (spec §4.3).
	DeduplicateBlocksInDependentMaterializedViews bool `toml:"deduplicate-blocks-in-dependent-materialized-views"`

	// MaterializedViewMinInsertBlockSizeRows/Bytes override the ordinary
	// minimum-block-size settings on the insert context when nonzero
	// (spec §4.3).
	MaterializedViewMinInsertBlockSizeRows  int64 `toml:"mv-min-insert-block-size-rows"`
	MaterializedViewMinInsertBlockSizeBytes int64 `toml:"mv-min-insert-block-size-bytes"`

	// ShareLockAcquireTimeout bounds the construction-time lock wait
	// (spec §3 "Shared lock handle").
	ShareLockAcquireTimeout toml.Duration `toml:"lock-acquire-timeout"`

	// MaxViewRecursionDepth bounds recursive dependents-of-dependents
	// binding (spec §4.2, §9).
	MaxViewRecursionDepth int `toml:"max-view-recursion-depth"`

	LogPath string `toml:"log-path"`
}

// NewConfig returns a Config with the same defaults a fresh install would
// ship: parallel processing on, pool sized to available CPUs, telemetry on
// with no minimum duration filter.
func NewConfig() *Config {
	return &Config{
		MaxThreads:                    minInt(DefaultMaxThreads, runtime.NumCPU()*4),
		ParallelViewProcessing:        true,
		MinimumQueryDurationMS:        DefaultMinimumQueryDurationMS,
		LogQueries:                    true,
		LogQueryViews:                 true,
		DeduplicateBlocksInDependentMaterializedViews: false,
		ShareLockAcquireTimeout:       DefaultShareLockAcquireTimeout,
		MaxViewRecursionDepth:         DefaultMaxViewRecursionDepth,
	}
}

// Validate checks that all configuration permutations are compatible with
// each other.
func (c *Config) Validate() error {
	if c.MaxThreads < 1 {
		return ErrConfigMaxThreadsInvalid
	}
	if c.MaxViewRecursionDepth < 1 {
		return ErrConfigRecursionDepthInvalid
	}
	if c.ShareLockAcquireTimeout <= 0 {
		return ErrConfigLockTimeoutInvalid
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
