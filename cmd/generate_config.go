// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"

	viewfanout "github.com/ekrasikov/viewfanout"
	"github.com/ekrasikov/viewfanout/errors"
	toml "github.com/pelletier/go-toml"
	"github.com/spf13/cobra"
)

func newGenerateConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long:  "generate-config prints the default configuration to stdout.\n",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := viewfanout.NewConfig()
			buf, err := toml.Marshal(*conf)
			if err != nil {
				return errors.Wrap(err, "marshaling default config")
			}
			fmt.Fprintf(stdout, "%s\n", buf)
			return nil
		},
	}
}
