// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package viewfanout

import "github.com/ekrasikov/viewfanout/errors"

const (
	// ErrTableDisappeared is returned by the Dependency Resolver when the
	// base table has been dropped between lookup and use. Fatal.
	ErrTableDisappeared errors.Code = "TableDisappeared"
	// ErrRecursionTooDeep is returned by the binder when recursive
	// dependents-of-dependents binding exceeds the configured depth guard.
	ErrRecursionTooDeep errors.Code = "RecursionTooDeep"
	// ErrCycleDetected is returned by the binder when a visited-set check
	// finds a cycle in the dependency graph during recursive binding.
	ErrCycleDetected errors.Code = "CycleDetected"

	errCodeConfigMaxThreadsInvalid     errors.Code = "ConfigMaxThreadsInvalid"
	errCodeConfigRecursionDepthInvalid errors.Code = "ConfigRecursionDepthInvalid"
	errCodeConfigLockTimeoutInvalid    errors.Code = "ConfigLockTimeoutInvalid"
)

// Config validation errors.
var (
	ErrConfigMaxThreadsInvalid     = errors.New(errCodeConfigMaxThreadsInvalid, "max-threads must be at least 1")
	ErrConfigRecursionDepthInvalid = errors.New(errCodeConfigRecursionDepthInvalid, "max-view-recursion-depth must be at least 1")
	ErrConfigLockTimeoutInvalid    = errors.New(errCodeConfigLockTimeoutInvalid, "lock-acquire-timeout must be positive")
)
