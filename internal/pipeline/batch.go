package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// Input is one document queued for batch processing.
type Input struct {
	Request model.ProcessingRequest
	Data    []byte
}

// Outcome pairs a batch input with its result or error.
type Outcome struct {
	Request model.ProcessingRequest
	Result  *Result
	Err     error
}

// ProcessBatch runs inputs concurrently, at most MaxConcurrent at a time.
// Individual failures are reported in the outcomes and do not stop the
// batch. Outcomes keep input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []Input) ([]Outcome, error) {
	out := make([]Outcome, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}

	limit := p.cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	zap.L().Info("pipeline: processing batch",
		zap.Int("documents", len(inputs)),
		zap.Int("concurrency", limit),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var succeeded, failed atomic.Int64
	for i, in := range inputs {
		g.Go(func() error {
			res, err := p.Process(gctx, in.Request, in.Data)
			out[i] = Outcome{Request: in.Request, Result: res, Err: err}
			if err != nil {
				failed.Add(1)
				zap.L().Error("pipeline: document failed", zap.String("file", in.Request.FileName), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, eris.Wrap(err, "pipeline: batch")
	}
	zap.L().Info("pipeline: batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return out, nil
}
