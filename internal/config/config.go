package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Firestore  FirestoreConfig  `yaml:"firestore" mapstructure:"firestore"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the durable metrics and alert store.
// Driver is one of postgres, sqlite, firestore, or none.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FirestoreConfig configures the firestore store driver.
type FirestoreConfig struct {
	ProjectID         string `yaml:"project_id" mapstructure:"project_id"`
	CredentialsFile   string `yaml:"credentials_file" mapstructure:"credentials_file"`
	MetricsCollection string `yaml:"metrics_collection" mapstructure:"metrics_collection"`
	AlertsCollection  string `yaml:"alerts_collection" mapstructure:"alerts_collection"`
	RollupsCollection string `yaml:"rollups_collection" mapstructure:"rollups_collection"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// UploadConfig constrains accepted documents.
type UploadConfig struct {
	MaxBytes          int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
}

// ExtractionConfig configures the extraction tiers.
type ExtractionConfig struct {
	TierTimeoutSecs int              `yaml:"tier_timeout_secs" mapstructure:"tier_timeout_secs"`
	Structured      StructuredConfig `yaml:"structured" mapstructure:"structured"`
	OCR             OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Confidence      TierConfidence   `yaml:"confidence" mapstructure:"confidence"`
}

// StructuredConfig configures the structured-document tier. Provider is
// documentai, pdftotext, or empty to disable the tier.
type StructuredConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Location        string `yaml:"location" mapstructure:"location"`
	ProcessorID     string `yaml:"processor_id" mapstructure:"processor_id"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	PdfToTextPath   string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// OCRConfig configures the OCR tier. Provider is vision, mistral, or empty.
type OCRConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	MistralKey      string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel    string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralBaseURL  string `yaml:"mistral_base_url" mapstructure:"mistral_base_url"`
}

// TierConfidence overrides the default confidence of each tier (0-100).
// Zero keeps the scorer's method reliability.
type TierConfidence struct {
	Structured float64 `yaml:"structured" mapstructure:"structured"`
	OCR        float64 `yaml:"ocr" mapstructure:"ocr"`
	Fallback   float64 `yaml:"fallback" mapstructure:"fallback"`
}

// LLMConfig configures the generative model. Provider is anthropic, vertex, or empty.
type LLMConfig struct {
	Provider    string          `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int             `yaml:"max_tokens" mapstructure:"max_tokens"`
	Anthropic   AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Vertex      VertexConfig    `yaml:"vertex" mapstructure:"vertex"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// VertexConfig holds Vertex AI (Gemini) settings.
type VertexConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Location        string `yaml:"location" mapstructure:"location"`
	Model           string `yaml:"model" mapstructure:"model"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// PipelineConfig configures request processing.
type PipelineConfig struct {
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxConcurrent      int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ResilienceConfig configures circuit breakers and retries.
type ResilienceConfig struct {
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	RetryMaxAttempts        int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs   int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs       int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// MonitoringConfig configures the metrics buffer, alerting, and delivery.
type MonitoringConfig struct {
	BufferCapacity      int              `yaml:"buffer_capacity" mapstructure:"buffer_capacity"`
	MirrorQueueSize     int              `yaml:"mirror_queue_size" mapstructure:"mirror_queue_size"`
	MirrorBatchSize     int              `yaml:"mirror_batch_size" mapstructure:"mirror_batch_size"`
	AlertHistory        int              `yaml:"alert_history" mapstructure:"alert_history"`
	CheckIntervalSecs   int              `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RollupHourUTC       int              `yaml:"rollup_hour_utc" mapstructure:"rollup_hour_utc"`
	RollupBucket        string           `yaml:"rollup_bucket" mapstructure:"rollup_bucket"`
	Thresholds          ThresholdsConfig `yaml:"thresholds" mapstructure:"thresholds"`
	WebhookURL          string           `yaml:"webhook_url" mapstructure:"webhook_url"`
	NATSURL             string           `yaml:"nats_url" mapstructure:"nats_url"`
	NATSSubject         string           `yaml:"nats_subject" mapstructure:"nats_subject"`
	DeliveriesPerMinute int              `yaml:"deliveries_per_minute" mapstructure:"deliveries_per_minute"`
}

// ThresholdsConfig holds alert thresholds. Rates and confidence are percentages.
type ThresholdsConfig struct {
	MinSuccessRate      float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MinAvgConfidence    float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
	MaxProcessingTimeMs int64   `yaml:"max_processing_time_ms" mapstructure:"max_processing_time_ms"`
	MaxErrorRate        float64 `yaml:"max_error_rate" mapstructure:"max_error_rate"`
	MinSamples          int     `yaml:"min_samples" mapstructure:"min_samples"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "credit-pipeline.db")
	v.SetDefault("firestore.metrics_collection", "processing_metrics")
	v.SetDefault("firestore.alerts_collection", "alerts")
	v.SetDefault("firestore.rollups_collection", "metrics_rollups")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("upload.max_bytes", 50<<20)
	v.SetDefault("upload.allowed_extensions", []string{"pdf", "jpg", "jpeg", "png", "txt"})
	v.SetDefault("extraction.tier_timeout_secs", 30)
	v.SetDefault("extraction.structured.location", "us")
	v.SetDefault("extraction.structured.pdftotext_path", "pdftotext")
	v.SetDefault("extraction.ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("extraction.ocr.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("llm.timeout_secs", 45)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.vertex.location", "us-central1")
	v.SetDefault("llm.vertex.model", "gemini-2.0-flash")
	v.SetDefault("pipeline.request_timeout_secs", 120)
	v.SetDefault("pipeline.max_concurrent", 4)
	v.SetDefault("resilience.circuit_failure_threshold", 5)
	v.SetDefault("resilience.circuit_reset_secs", 30)
	v.SetDefault("resilience.retry_max_attempts", 3)
	v.SetDefault("resilience.retry_initial_backoff_ms", 200)
	v.SetDefault("resilience.retry_max_backoff_ms", 5000)
	v.SetDefault("monitoring.buffer_capacity", 1000)
	v.SetDefault("monitoring.mirror_queue_size", 5000)
	v.SetDefault("monitoring.mirror_batch_size", 100)
	v.SetDefault("monitoring.alert_history", 500)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.rollup_hour_utc", 0)
	v.SetDefault("monitoring.thresholds.min_success_rate", 85)
	v.SetDefault("monitoring.thresholds.min_avg_confidence", 60)
	v.SetDefault("monitoring.thresholds.max_processing_time_ms", 10000)
	v.SetDefault("monitoring.thresholds.max_error_rate", 15)
	v.SetDefault("monitoring.thresholds.min_samples", 10)
	v.SetDefault("monitoring.nats_subject", "credit.alerts")
	v.SetDefault("monitoring.deliveries_per_minute", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration required by a command mode
// (serve, process, query, migrate).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "process":
		errs = append(errs, c.validateProcessing()...)
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateMonitoring()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "query", "migrate":
		errs = append(errs, c.validateStore()...)
		if c.Store.Driver == "none" {
			errs = append(errs, "store.driver must not be none for "+mode)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "firestore":
		if c.Firestore.ProjectID == "" {
			errs = append(errs, "firestore.project_id is required")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of postgres, sqlite, firestore, none", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateProcessing() []string {
	var errs []string
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, "upload.max_bytes must be > 0")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		errs = append(errs, "upload.allowed_extensions must not be empty")
	}
	if c.Extraction.TierTimeoutSecs <= 0 {
		errs = append(errs, "extraction.tier_timeout_secs must be > 0")
	}
	conf := c.Extraction.Confidence
	for name, v := range map[string]float64{"structured": conf.Structured, "ocr": conf.OCR, "fallback": conf.Fallback} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Sprintf("extraction.confidence.%s must be between 0 and 100", name))
		}
	}
	switch c.Extraction.Structured.Provider {
	case "", "pdftotext":
	case "documentai":
		if c.Extraction.Structured.ProjectID == "" || c.Extraction.Structured.ProcessorID == "" {
			errs = append(errs, "extraction.structured.project_id and processor_id are required for documentai")
		}
	default:
		errs = append(errs, fmt.Sprintf("extraction.structured.provider %q is unknown", c.Extraction.Structured.Provider))
	}
	switch c.Extraction.OCR.Provider {
	case "", "vision", "mistral":
	default:
		errs = append(errs, fmt.Sprintf("extraction.ocr.provider %q is unknown", c.Extraction.OCR.Provider))
	}
	switch c.LLM.Provider {
	case "", "anthropic", "vertex":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is unknown", c.LLM.Provider))
	}
	if c.Pipeline.RequestTimeoutSecs <= 0 {
		errs = append(errs, "pipeline.request_timeout_secs must be > 0")
	}
	if c.Pipeline.MaxConcurrent < 1 || c.Pipeline.MaxConcurrent > 64 {
		errs = append(errs, "pipeline.max_concurrent must be between 1 and 64")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	var errs []string
	m := c.Monitoring
	if m.BufferCapacity <= 0 {
		errs = append(errs, "monitoring.buffer_capacity must be > 0")
	}
	if m.MirrorQueueSize <= 0 {
		errs = append(errs, "monitoring.mirror_queue_size must be > 0")
	}
	if m.RollupHourUTC < 0 || m.RollupHourUTC > 23 {
		errs = append(errs, "monitoring.rollup_hour_utc must be between 0 and 23")
	}
	t := m.Thresholds
	if t.MinSuccessRate < 0 || t.MinSuccessRate > 100 ||
		t.MinAvgConfidence < 0 || t.MinAvgConfidence > 100 ||
		t.MaxErrorRate < 0 || t.MaxErrorRate > 100 {
		errs = append(errs, "monitoring.thresholds rates must be between 0 and 100")
	}
	if t.MaxProcessingTimeMs <= 0 {
		errs = append(errs, "monitoring.thresholds.max_processing_time_ms must be > 0")
	}
	if t.MinSamples < 1 {
		errs = append(errs, "monitoring.thresholds.min_samples must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
