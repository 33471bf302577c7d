// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Command viewfanoutd is a standalone driver for the view fan-out write
// path, backed by a local bolt catalog rather than a full metadata service.
package main

import (
	"fmt"
	"os"

	"github.com/ekrasikov/viewfanout/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
