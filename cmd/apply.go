// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	viewfanout "github.com/ekrasikov/viewfanout"
	"github.com/ekrasikov/viewfanout/accounting"
	"github.com/ekrasikov/viewfanout/boltcatalog"
	"github.com/ekrasikov/viewfanout/errors"
	"github.com/ekrasikov/viewfanout/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// jsonColumn is the on-disk shape of one column of an --data batch file.
type jsonColumn struct {
	Name        string        `json:"name"`
	NestedGroup string        `json:"nested_group,omitempty"`
	Values      []interface{} `json:"values"`
}

func newApplyCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := viewfanout.NewConfig()
	var catalogPath, table, dataPath, queryID, metrics, logFormat string

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Insert one batch into a table and fan it out to its dependent views.",
		Long: `apply drives the full view fan-out write path against a bolt catalog:
it resolves the named table, binds every dependent (materialized, live, or
default), and runs prefix/write/suffix/flush across all of them, printing
per-view telemetry to stderr when it completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ref, err := parseTableRef(table)
			if err != nil {
				return err
			}
			batch, err := loadBatch(dataPath)
			if err != nil {
				return err
			}

			cat, err := boltcatalog.Open(catalogPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			log, err := buildLogger(logFormat, stderr)
			if err != nil {
				return err
			}
			client, err := buildClient(metrics)
			if err != nil {
				return err
			}

			w, err := viewfanout.NewFanoutWriter(
				cmd.Context(), cat,
				viewfanout.NewPassthroughPlanner(),
				viewfanout.NewVirtualSourceFactory(),
				viewfanout.NewDirectLiveViewWriter(),
				*cfg, log, client, queryID, ref, false,
			)
			if err != nil {
				return errors.Wrap(err, "constructing fan-out writer")
			}
			defer w.Close()

			if err := w.Prefix(cmd.Context()); err != nil {
				return err
			}
			if err := w.Write(cmd.Context(), batch); err != nil {
				return err
			}
			if err := w.Suffix(cmd.Context()); err != nil {
				return err
			}
			if err := w.Flush(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(stdout, "applied %d rows to %s\n", batch.NumRows(), ref)
			return nil
		},
	}

	applyCmd.Flags().StringVarP(&catalogPath, "catalog", "", "viewfanout.db", "Path to the bolt catalog file.")
	applyCmd.Flags().StringVarP(&table, "table", "t", "", "Base table to insert into, as database.table or table.")
	applyCmd.Flags().StringVarP(&dataPath, "data", "d", "", "Path to a JSON batch file ({\"columns\":[{\"name\":...,\"values\":[...]}]}).")
	applyCmd.Flags().StringVarP(&queryID, "query-id", "", "", "Query id to tag the lock acquisition and telemetry with.")
	applyCmd.Flags().IntVarP(&cfg.MaxThreads, "max-threads", "", cfg.MaxThreads, "Worker pool size for parallel view processing.")
	applyCmd.Flags().BoolVarP(&cfg.ParallelViewProcessing, "parallel-view-processing", "", cfg.ParallelViewProcessing, "Process views in parallel rather than sequentially.")
	applyCmd.Flags().BoolVarP(&cfg.LogQueries, "log-queries", "", cfg.LogQueries, "Enable the query-views telemetry sink.")
	applyCmd.Flags().BoolVarP(&cfg.LogQueryViews, "log-query-views", "", cfg.LogQueryViews, "Emit per-view telemetry records.")
	applyCmd.Flags().Int64VarP(&cfg.MinimumQueryDurationMS, "minimum-query-duration-ms", "", cfg.MinimumQueryDurationMS, "Suppress telemetry for views faster than this.")
	applyCmd.Flags().IntVarP(&cfg.MaxViewRecursionDepth, "max-view-recursion-depth", "", cfg.MaxViewRecursionDepth, "Recursion depth guard for dependents-of-dependents binding.")
	applyCmd.Flags().StringVarP(&metrics, "metrics", "", "expvar", "Accounting backend(s): expvar, prometheus, or a comma-separated combination of both.")
	applyCmd.Flags().StringVarP(&logFormat, "log-format", "", "text", "Logger implementation: text or zap.")

	return applyCmd
}

// buildClient resolves --metrics into an accounting.Client. A comma-separated
// list (e.g. "expvar,prometheus") fans out through accounting.MultiClient so
// both backends see every counter.
func buildClient(metrics string) (accounting.Client, error) {
	if metrics == "" {
		metrics = "expvar"
	}
	var clients accounting.MultiClient
	for _, name := range strings.Split(metrics, ",") {
		switch strings.TrimSpace(name) {
		case "expvar":
			clients = append(clients, accounting.NewExpvarClient())
		case "prometheus":
			clients = append(clients, accounting.NewPrometheusClient(prometheus.NewRegistry()))
		default:
			return nil, fmt.Errorf("unknown --metrics %q (want expvar, prometheus, or a comma-separated combination)", name)
		}
	}
	if len(clients) == 1 {
		return clients[0], nil
	}
	return clients, nil
}

// buildLogger resolves --log-format into a logger.Logger writing to w.
func buildLogger(format string, w io.Writer) (logger.Logger, error) {
	switch format {
	case "", "text":
		return logger.NewStandardLogger(w), nil
	case "zap":
		return logger.NewZapLogger(w)
	default:
		return nil, fmt.Errorf("unknown --log-format %q (want text or zap)", format)
	}
}

func loadBatch(path string) (viewfanout.Batch, error) {
	if path == "" {
		return viewfanout.Batch{}, fmt.Errorf("--data is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return viewfanout.Batch{}, errors.Wrapf(err, "reading batch file %s", path)
	}
	var cols []jsonColumn
	if err := json.Unmarshal(raw, &struct {
		Columns *[]jsonColumn `json:"columns"`
	}{Columns: &cols}); err != nil {
		return viewfanout.Batch{}, errors.Wrapf(err, "parsing batch file %s", path)
	}

	b := viewfanout.Batch{Columns: make([]viewfanout.Column, len(cols))}
	for i, c := range cols {
		b.Columns[i] = viewfanout.Column{Name: c.Name, NestedGroup: c.NestedGroup, Values: c.Values}
	}
	if err := viewfanout.ValidateArraySizes(b); err != nil {
		return viewfanout.Batch{}, err
	}
	return b, nil
}
