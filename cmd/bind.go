// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	viewfanout "github.com/ekrasikov/viewfanout"
	"github.com/ekrasikov/viewfanout/boltcatalog"
	"github.com/spf13/cobra"
)

func newBindCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var catalogPath, table string

	bindCmd := &cobra.Command{
		Use:   "bind",
		Short: "Resolve and print the dependent view tree for a table, without writing anything.",
		Long: `bind resolves a table's dependents from a bolt catalog and prints the
resulting view tree (kind, display name, nesting), the way a caller can
inspect what a real insert into that table would fan out to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseTableRef(table)
			if err != nil {
				return err
			}
			cat, err := boltcatalog.Open(catalogPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			return printDependents(cmd.Context(), stdout, cat, ref, 0)
		},
	}
	bindCmd.Flags().StringVarP(&catalogPath, "catalog", "", "viewfanout.db", "Path to the bolt catalog file.")
	bindCmd.Flags().StringVarP(&table, "table", "t", "", "Base table to resolve, as database.table or table.")
	return bindCmd
}

func printDependents(ctx context.Context, w io.Writer, cat *boltcatalog.Catalog, ref viewfanout.TableRef, depth int) error {
	deps, err := cat.DependentsOf(ctx, ref)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		fmt.Fprintf(w, "%s%s (%s)\n", strings.Repeat("  ", depth+1), dep.Ref, dependentKindName(dep.Kind))
		if dep.Kind != viewfanout.DependentMaterialized {
			if err := printDependents(ctx, w, cat, dep.Ref, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func dependentKindName(k viewfanout.DependentKind) string {
	switch k {
	case viewfanout.DependentMaterialized:
		return "materialized"
	case viewfanout.DependentLive:
		return "live"
	default:
		return "default"
	}
}

func parseTableRef(s string) (viewfanout.TableRef, error) {
	if s == "" {
		return viewfanout.TableRef{}, fmt.Errorf("--table is required")
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return viewfanout.TableRef{Database: s[:i], Table: s[i+1:]}, nil
	}
	return viewfanout.TableRef{Table: s}, nil
}
