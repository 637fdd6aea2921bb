package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/pipeline"
)

var (
	processUserID string
	processOutput string
)

// processOutcome is one line of process output.
type processOutcome struct {
	File   string           `json:"file"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Process credit report files",
	Long:  "Runs each file through validation, extraction, parsing, scoring, and analysis, writing one JSON result per line. Metrics and alerts are recorded like uploads to the server.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		inputs, err := loadInputs(args, processUserID)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if processOutput != "" {
			f, err := os.Create(processOutput)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		mctx, stopMonitor := context.WithCancel(ctx)
		monitorDone := make(chan error, 1)
		go func() { monitorDone <- env.Monitor.Run(mctx) }()

		outcomes, batchErr := env.Pipeline.ProcessBatch(ctx, inputs)

		stopMonitor()
		<-monitorDone
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		env.Monitor.Flush(fctx)

		failed, err := writeOutcomes(out, outcomes)
		if err != nil {
			return err
		}
		if batchErr != nil {
			return batchErr
		}
		if failed > 0 {
			return eris.Errorf("%d of %d documents failed", failed, len(outcomes))
		}
		return nil
	},
}

// loadInputs reads every file into memory. The mime type is left empty so
// the pipeline derives it from the extension.
func loadInputs(paths []string, userID string) ([]pipeline.Input, error) {
	inputs := make([]pipeline.Input, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", p)
		}
		inputs = append(inputs, pipeline.Input{
			Request: model.ProcessingRequest{
				FileName: filepath.Base(p),
				FileSize: int64(len(data)),
				UserID:   userID,
			},
			Data: data,
		})
	}
	return inputs, nil
}

func writeOutcomes(w io.Writer, outcomes []pipeline.Outcome) (failed int, err error) {
	enc := json.NewEncoder(w)
	for _, o := range outcomes {
		line := processOutcome{File: o.Request.FileName, Result: o.Result}
		if o.Err != nil {
			failed++
			line.Error = o.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			return failed, eris.Wrap(err, "write result")
		}
	}
	zap.L().Info("process complete", zap.Int("documents", len(outcomes)), zap.Int("failed", failed))
	return failed, nil
}

func init() {
	processCmd.Flags().StringVar(&processUserID, "user-id", "", "user id recorded with each document")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "write results to this file instead of stdout")
	rootCmd.AddCommand(processCmd)
}
