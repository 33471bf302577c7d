// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaultsValidate(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.MaxThreads >= 1)
	assert.True(t, cfg.ParallelViewProcessing)
	assert.True(t, cfg.LogQueries)
	assert.True(t, cfg.LogQueryViews)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want error
	}{
		{"max threads too low", func(c *Config) { c.MaxThreads = 0 }, ErrConfigMaxThreadsInvalid},
		{"recursion depth too low", func(c *Config) { c.MaxViewRecursionDepth = 0 }, ErrConfigRecursionDepthInvalid},
		{"lock timeout non-positive", func(c *Config) { c.ShareLockAcquireTimeout = 0 }, ErrConfigLockTimeoutInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mut(cfg)
			assert.Equal(t, tt.want, cfg.Validate())
		})
	}
}
