package main

import (
	"context"
	"io"
	"slices"
	"time"

	"cloud.google.com/go/storage"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/analysis"
	"github.com/sells-group/credit-pipeline/internal/extract"
	"github.com/sells-group/credit-pipeline/internal/llm"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/monitoring"
	"github.com/sells-group/credit-pipeline/internal/ocr"
	"github.com/sells-group/credit-pipeline/internal/parser"
	"github.com/sells-group/credit-pipeline/internal/pipeline"
	"github.com/sells-group/credit-pipeline/internal/resilience"
	"github.com/sells-group/credit-pipeline/internal/scorer"
	"github.com/sells-group/credit-pipeline/internal/store"
)

// pipelineEnv holds the store, monitor, and pipeline shared by the serve
// and process commands.
type pipelineEnv struct {
	Store    store.Store // nil when store.driver is none
	Monitor  *monitoring.Monitor
	Pipeline *pipeline.Pipeline
	Breakers *resilience.Breakers
	Registry *prometheus.Registry

	closers []io.Closer
	nc      *nats.Conn
}

// Close releases every client held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.nc != nil {
		_ = pe.nc.Drain()
	}
	for _, c := range slices.Backward(pe.closers) {
		_ = c.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store. It returns nil when the
// driver is none.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		zap.L().Warn("store driver is none, monitoring runs in memory only")
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds the extraction tiers, model clients, monitor, and
// pipeline for mode (serve or process). Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st, Registry: prometheus.NewRegistry()}
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fail := func(err error) (*pipelineEnv, error) {
		env.Close()
		return nil, err
	}

	proc, err := ocr.NewProcessor(ctx, cfg.Extraction.Structured)
	if err != nil {
		return fail(eris.Wrap(err, "init structured processor"))
	}
	env.track(proc)
	det, err := ocr.NewDetector(ctx, cfg.Extraction.OCR)
	if err != nil {
		return fail(eris.Wrap(err, "init ocr detector"))
	}
	env.track(det)
	gen, err := llm.NewGenerator(ctx, cfg.LLM)
	if err != nil {
		return fail(eris.Wrap(err, "init generative model"))
	}
	env.track(gen)
	if gen == nil {
		zap.L().Warn("llm.provider not set, structured extraction and analysis use rule-based paths")
	}

	res := cfg.Resilience
	env.Breakers = resilience.NewBreakers(resilience.FromCircuitConfig(res.CircuitFailureThreshold, res.CircuitResetSecs))

	conf := cfg.Extraction.Confidence
	engine := extract.NewEngine([]extract.Tier{
		extract.NewStructuredTier(structuredName(), proc, cfg.Extraction.Structured.Provider == "pdftotext",
			tierConfidence(conf.Structured, model.MethodStructuredProcessor)),
		extract.NewOCRTier(ocrName(), det, tierConfidence(conf.OCR, model.MethodOCR)),
		extract.NewFallbackTier(tierConfidence(conf.Fallback, model.MethodFallback)),
	},
		extract.WithTierTimeout(time.Duration(cfg.Extraction.TierTimeoutSecs)*time.Second),
		extract.WithBreakers(env.Breakers),
	)
	zap.L().Info("extraction tiers ready", zap.Strings("tiers", engine.Tiers()))

	mopts := monitoring.Options{
		Registerer: env.Registry,
		Retry:      resilience.FromRetryConfig(res.RetryMaxAttempts, res.RetryInitialBackoffMs, res.RetryMaxBackoffMs),
	}
	if st != nil {
		mopts.Store = st
	}
	notifier, err := env.initNotifier()
	if err != nil {
		return fail(err)
	}
	mopts.Notifier = notifier
	if bucket := cfg.Monitoring.RollupBucket; bucket != "" {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			return fail(eris.Wrap(err, "init rollup archive client"))
		}
		env.track(gcs)
		mopts.Archiver = monitoring.NewGCSArchiver(gcs, bucket)
	}
	env.Monitor = monitoring.New(cfg.Monitoring, mopts)
	if st != nil {
		warmBuffer(ctx, st, env.Monitor)
	}

	llmTimeout := time.Duration(cfg.LLM.TimeoutSecs) * time.Second
	env.Pipeline = pipeline.New(cfg, engine,
		parser.New(gen, llmTimeout),
		analysis.New(gen, llmTimeout),
		env.Monitor,
	)
	return env, nil
}

func (pe *pipelineEnv) initNotifier() (monitoring.Notifier, error) {
	var multi monitoring.MultiNotifier
	if url := cfg.Monitoring.WebhookURL; url != "" {
		multi = append(multi, monitoring.NewWebhookNotifier(url))
	}
	if url := cfg.Monitoring.NATSURL; url != "" {
		n, nc, err := monitoring.DialNATS(url, cfg.Monitoring.NATSSubject)
		if err != nil {
			return nil, err
		}
		pe.nc = nc
		multi = append(multi, n)
	}
	switch len(multi) {
	case 0:
		return nil, nil
	case 1:
		return multi[0], nil
	default:
		return multi, nil
	}
}

// track remembers v for Close when it holds resources.
func (pe *pipelineEnv) track(v any) {
	if c, ok := v.(io.Closer); ok && c != nil {
		pe.closers = append(pe.closers, c)
	}
}

// warmBuffer reloads recent records so windowed statistics survive a
// restart. Failures only log.
func warmBuffer(ctx context.Context, st store.Store, mon *monitoring.Monitor) {
	since := time.Now().Add(-monitoring.Window30d.Duration())
	recs, err := st.ListMetrics(ctx, since, mon.Buffer().Capacity())
	if err != nil {
		zap.L().Warn("could not reload recent metrics", zap.Error(err))
		return
	}
	// ListMetrics is newest first.
	for _, r := range slices.Backward(recs) {
		mon.Buffer().Record(r)
	}
	zap.L().Info("reloaded recent metrics", zap.Int("records", len(recs)))
}

func structuredName() string {
	if p := cfg.Extraction.Structured.Provider; p != "" {
		return p
	}
	return "structured"
}

func ocrName() string {
	if p := cfg.Extraction.OCR.Provider; p != "" {
		return p
	}
	return "ocr"
}

// tierConfidence returns the configured confidence, or the method's default
// reliability when unset.
func tierConfidence(configured float64, m model.Method) float64 {
	if configured > 0 {
		return configured
	}
	return scorer.MethodReliability(m)
}
