package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/monitoring"
)

// maxQueryRecords bounds how many stored records one metrics query loads.
const maxQueryRecords = 100000

var (
	metricsWindow string
	metricsKind   string
	metricsXLSX   string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show processing statistics from the durable store",
	Long:  "Loads stored metrics records for a window (1h, 24h, 7d, 30d) and prints the success, confidence, performance, errors, or dashboard aggregate as JSON. --xlsx writes the dashboard as a spreadsheet instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		window, err := monitoring.ParseWindow(metricsWindow)
		if err != nil {
			return err
		}
		kind, err := monitoring.ParseKind(metricsKind)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		agg, err := storedAggregator(ctx, st.ListMetrics, window)
		if err != nil {
			return err
		}

		if metricsXLSX != "" {
			return writeXLSX(metricsXLSX, agg.Dashboard(window))
		}
		out, err := agg.Query(window, kind)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

type listMetricsFunc func(ctx context.Context, since time.Time, limit int) ([]model.ProcessingMetricsRecord, error)

// storedAggregator loads the window from the store into a fresh buffer.
func storedAggregator(ctx context.Context, list listMetricsFunc, w monitoring.Window) (*monitoring.Aggregator, error) {
	recs, err := list(ctx, time.Now().Add(-w.Duration()), maxQueryRecords)
	if err != nil {
		return nil, eris.Wrap(err, "list metrics")
	}
	if len(recs) == maxQueryRecords {
		zap.L().Warn("metrics query hit the record limit, older records were skipped", zap.Int("limit", maxQueryRecords))
	}
	buf := monitoring.NewBuffer(max(len(recs), 1))
	for i := len(recs) - 1; i >= 0; i-- {
		buf.Record(recs[i])
	}
	return monitoring.NewAggregator(buf), nil
}

func writeXLSX(path string, d monitoring.Dashboard) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create xlsx file")
	}
	if err := monitoring.ExportXLSX(f, d); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "close xlsx file")
	}
	zap.L().Info("dashboard exported", zap.String("path", path), zap.String("window", string(d.Window)))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "write json")
}

func init() {
	metricsCmd.Flags().StringVar(&metricsWindow, "window", "24h", "time window: 1h, 24h, 7d, or 30d")
	metricsCmd.Flags().StringVar(&metricsKind, "kind", "dashboard", "aggregate: success, confidence, performance, errors, or dashboard")
	metricsCmd.Flags().StringVar(&metricsXLSX, "xlsx", "", "write the dashboard to this .xlsx file")
	rootCmd.AddCommand(metricsCmd)
}
