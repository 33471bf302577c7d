// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NewRootCommand builds the viewfanoutd command tree: generate-config,
// apply, and bind. It mirrors the teacher's NewRootCommand shape exactly —
// a PersistentPreRunE that layers flag/env/file configuration through
// setAllConfig, and a hidden --dry-run flag used by tests to stop short of
// actually running a subcommand.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "viewfanoutd",
		Short: "viewfanoutd fans inserted row batches out to dependent materialized and live views.",
		Long: `viewfanoutd is a standalone driver for the view fan-out write path: given
a base table insert, it resolves dependents from a catalog, binds a view
record per dependent, and runs the prefix/write/suffix/flush phases across
all of them, in parallel where configured, with per-view telemetry.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := setAllConfig(v, cmd.Flags()); err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("problem getting dry-run flag: %v", err)
			}
			if dryRun && cmd.Parent() != nil {
				return fmt.Errorf("dry run")
			}
			return nil
		},
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newApplyCommand(stdin, stdout, stderr))
	rc.AddCommand(newBindCommand(stdin, stdout, stderr))

	rc.SetOutput(stderr)
	return rc
}

// setAllConfig layers command-line flags, environment variables (prefixed
// VIEWFANOUT_), and a TOML config file (if --config is set) onto v, in
// that priority order, then applies the resolved values back onto the
// flag set. Grounded verbatim on the teacher's cmd/root.go setAllConfig.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error { // nolint: unparam
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix("VIEWFANOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) { validTags[f.Name] = true })

	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if f.Changed {
			return
		}
		flagErr = f.Value.Set(value)
	})
	return flagErr
}
