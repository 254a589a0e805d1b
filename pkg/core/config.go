package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration options for the monitor.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables, optionally seeded from .env files (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithProjectID("owner-project"),
//	    WithSelfMonitoring(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// ProjectID is the project hosting the monitor; secrets and self-monitoring
	// series live there.
	ProjectID    string `json:"project_id" env:"GCP_PROJECT"`
	FunctionName string `json:"function_name" env:"FUNCTION_NAME" default:"dynatrace-gcp-monitor"`

	Dynatrace   DynatraceConfig   `json:"dynatrace"`
	Execution   ExecutionConfig   `json:"execution"`
	Services    ServicesConfig    `json:"services"`
	Cache       CacheConfig       `json:"cache"`
	HTTP        HTTPConfig        `json:"http"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	Logging     LoggingConfig     `json:"logging"`
	Development DevelopmentConfig `json:"development"`
}

// DynatraceConfig describes the ingest target.
type DynatraceConfig struct {
	URL                     string        `json:"url" env:"DYNATRACE_URL"`
	AccessKey               string        `json:"-" env:"DYNATRACE_ACCESS_KEY"`
	IngestBatchSize         int           `json:"ingest_batch_size" env:"METRIC_INGEST_BATCH_SIZE" default:"1000"`
	RequireValidCertificate bool          `json:"require_valid_certificate" env:"REQUIRE_VALID_CERTIFICATE" default:"true"`
	Timeout                 time.Duration `json:"timeout" env:"DYNATRACE_TIMEOUT_SECONDS" default:"30s"`
}

// ExecutionConfig controls a single polling execution.
type ExecutionConfig struct {
	QueryInterval          time.Duration `json:"query_interval" env:"QUERY_INTERVAL_MIN" default:"3m"`
	SelfMonitoringEnabled  bool          `json:"self_monitoring_enabled" env:"SELF_MONITORING_ENABLED" default:"false"`
	ScopingProjectSupport  bool          `json:"scoping_project_support" env:"SCOPING_PROJECT_SUPPORT_ENABLED" default:"false"`
	PrintMetricIngestInput bool          `json:"print_metric_ingest_input" env:"PRINT_METRIC_INGEST_INPUT" default:"false"`

	// Fan-out limits per level; 0 means unbounded.
	MaxConcurrentProjects   int `json:"max_concurrent_projects" env:"MAX_CONCURRENT_PROJECTS" default:"10"`
	MaxConcurrentFetches    int `json:"max_concurrent_fetches" env:"MAX_CONCURRENT_FETCHES" default:"50"`
	MaxConcurrentExtractors int `json:"max_concurrent_extractors" env:"MAX_CONCURRENT_EXTRACTORS" default:"10"`
}

// ServicesConfig points at the extension and activation YAML sources.
type ServicesConfig struct {
	ExtensionsDir  string `json:"extensions_dir" env:"EXTENSIONS_CONFIG_DIR" default:"config"`
	ActivationFile string `json:"activation_file" env:"ACTIVATION_CONFIG_FILE" default:"/code/config/activation/gcp_services.yaml"`
	ActivationYAML string `json:"-" env:"ACTIVATION_CONFIG"`
}

// CacheConfig configures the disabled-API lookup cache.
// An empty RedisURL selects the in-memory store.
type CacheConfig struct {
	RedisURL        string        `json:"redis_url" env:"REDIS_URL"`
	Namespace       string        `json:"namespace" env:"CACHE_NAMESPACE" default:"gcp-monitor"`
	DisabledAPIsTTL time.Duration `json:"disabled_apis_ttl" env:"DISABLED_APIS_CACHE_TTL" default:"10m"`
}

// HTTPConfig contains the health check server settings.
type HTTPConfig struct {
	HealthCheckPort int           `json:"health_check_port" env:"HEALTH_CHECK_PORT" default:"8080"`
	HealthCheckPath string        `json:"health_check_path" default:"/health"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" default:"10s"`
	ClientTimeout   time.Duration `json:"client_timeout" env:"GCP_TIMEOUT_SECONDS" default:"60s"`
}

// TelemetryConfig contains OpenTelemetry export configuration for the
// monitor's own traces and metrics.
type TelemetryConfig struct {
	Endpoint        string `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEndpoint string `json:"metrics_endpoint" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	ServiceName     string `json:"service_name" env:"OTEL_SERVICE_NAME"`
	TracingEnabled  bool   `json:"tracing_enabled" default:"true"`
	MetricsEnabled  bool   `json:"metrics_enabled" default:"true"`
	Insecure        bool   `json:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// DevelopmentConfig contains settings for local runs.
type DevelopmentConfig struct {
	Enabled  bool     `json:"enabled" env:"GCP_MONITOR_DEV_MODE" default:"false"`
	EnvFiles []string `json:"env_files"`
}

// Option is a functional option for configuring the monitor.
type Option func(*Config) error

// ConfigurationFlags lists the environment variables reported at startup.
var ConfigurationFlags = []string{
	"PRINT_METRIC_INGEST_INPUT",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"METRIC_INGEST_BATCH_SIZE",
	"GCP_PROJECT",
	"REQUIRE_VALID_CERTIFICATE",
	"SELF_MONITORING_ENABLED",
	"QUERY_INTERVAL_MIN",
	"SCOPING_PROJECT_SUPPORT_ENABLED",
	"MAX_CONCURRENT_PROJECTS",
	"MAX_CONCURRENT_FETCHES",
	"REDIS_URL",
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FunctionName: "dynatrace-gcp-monitor",
		Dynatrace: DynatraceConfig{
			IngestBatchSize:         1000,
			RequireValidCertificate: true,
			Timeout:                 30 * time.Second,
		},
		Execution: ExecutionConfig{
			QueryInterval:           3 * time.Minute,
			MaxConcurrentProjects:   10,
			MaxConcurrentFetches:    50,
			MaxConcurrentExtractors: 10,
		},
		Services: ServicesConfig{
			ExtensionsDir:  "config",
			ActivationFile: "/code/config/activation/gcp_services.yaml",
		},
		Cache: CacheConfig{
			Namespace:       "gcp-monitor",
			DisabledAPIsTTL: 10 * time.Minute,
		},
		HTTP: HTTPConfig{
			HealthCheckPort: 8080,
			HealthCheckPath: "/health",
			ShutdownTimeout: 10 * time.Second,
			ClientTimeout:   60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			TracingEnabled: true,
			MetricsEnabled: true,
			Insecure:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadDotEnv seeds the process environment from .env files. Variables that are
// already set win; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are overridden by functional options.
//
// Returns an error wrapping ErrInvalidConfiguration if a variable holds an unparsable value.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("FUNCTION_NAME"); v != "" {
		c.FunctionName = v
	}

	// Dynatrace settings
	if v := os.Getenv("DYNATRACE_URL"); v != "" {
		c.Dynatrace.URL = v
	}
	if v := os.Getenv("DYNATRACE_ACCESS_KEY"); v != "" {
		c.Dynatrace.AccessKey = v
	}
	if err := envInt("METRIC_INGEST_BATCH_SIZE", &c.Dynatrace.IngestBatchSize); err != nil {
		return err
	}
	if v := os.Getenv("REQUIRE_VALID_CERTIFICATE"); v != "" {
		c.Dynatrace.RequireValidCertificate = parseBool(v)
	}
	if v := os.Getenv("DYNATRACE_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("DYNATRACE_TIMEOUT_SECONDS", v, err)
		}
		c.Dynatrace.Timeout = time.Duration(secs) * time.Second
	}

	// Execution settings
	if v := os.Getenv("QUERY_INTERVAL_MIN"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("QUERY_INTERVAL_MIN", v, err)
		}
		c.Execution.QueryInterval = time.Duration(minutes) * time.Minute
	}
	if v := os.Getenv("SELF_MONITORING_ENABLED"); v != "" {
		c.Execution.SelfMonitoringEnabled = parseBool(v)
	}
	if v := os.Getenv("SCOPING_PROJECT_SUPPORT_ENABLED"); v != "" {
		c.Execution.ScopingProjectSupport = parseBool(v)
	}
	if v := os.Getenv("PRINT_METRIC_INGEST_INPUT"); v != "" {
		c.Execution.PrintMetricIngestInput = parseBool(v)
	}
	if err := envInt("MAX_CONCURRENT_PROJECTS", &c.Execution.MaxConcurrentProjects); err != nil {
		return err
	}
	if err := envInt("MAX_CONCURRENT_FETCHES", &c.Execution.MaxConcurrentFetches); err != nil {
		return err
	}
	if err := envInt("MAX_CONCURRENT_EXTRACTORS", &c.Execution.MaxConcurrentExtractors); err != nil {
		return err
	}

	// Services settings
	if v := os.Getenv("EXTENSIONS_CONFIG_DIR"); v != "" {
		c.Services.ExtensionsDir = v
	}
	if v := os.Getenv("ACTIVATION_CONFIG_FILE"); v != "" {
		c.Services.ActivationFile = v
	}
	if v := os.Getenv("ACTIVATION_CONFIG"); v != "" {
		c.Services.ActivationYAML = v
	}

	// Cache settings
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("CACHE_NAMESPACE"); v != "" {
		c.Cache.Namespace = v
	}
	if v := os.Getenv("DISABLED_APIS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalidEnv("DISABLED_APIS_CACHE_TTL", v, err)
		}
		c.Cache.DisabledAPIsTTL = d
	}

	// HTTP settings
	if err := envInt("HEALTH_CHECK_PORT", &c.HTTP.HealthCheckPort); err != nil {
		return err
	}
	if v := os.Getenv("GCP_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return invalidEnv("GCP_TIMEOUT_SECONDS", v, err)
		}
		c.HTTP.ClientTimeout = time.Duration(secs) * time.Second
	}

	// Telemetry settings
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); v != "" {
		c.Telemetry.MetricsEndpoint = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.FunctionName
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Logging settings
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	// Development settings
	if v := os.Getenv("GCP_MONITOR_DEV_MODE"); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Level = "debug"
			c.Logging.Format = "text"
		}
	}

	return nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if c.Execution.QueryInterval < time.Minute {
		return fmt.Errorf("query interval must be at least 1 minute, got %s: %w", c.Execution.QueryInterval, ErrInvalidConfiguration)
	}
	if c.Dynatrace.IngestBatchSize <= 0 {
		return fmt.Errorf("ingest batch size must be positive, got %d: %w", c.Dynatrace.IngestBatchSize, ErrInvalidConfiguration)
	}
	if c.Execution.MaxConcurrentProjects < 0 || c.Execution.MaxConcurrentFetches < 0 || c.Execution.MaxConcurrentExtractors < 0 {
		return fmt.Errorf("concurrency limits must not be negative: %w", ErrInvalidConfiguration)
	}
	if c.HTTP.HealthCheckPort < 0 || c.HTTP.HealthCheckPort > 65535 {
		return fmt.Errorf("invalid health check port %d: %w", c.HTTP.HealthCheckPort, ErrInvalidConfiguration)
	}
	return nil
}

// NewConfig assembles a configuration from defaults, .env files, the
// environment and the given options, then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	// Options may name extra .env files, so they are applied once up front to
	// learn about them and again after the environment to take precedence.
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(cfg.Development.EnvFiles...); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DescribeFlags renders each configuration flag as "KEY = 'value'" or
// "KEY is None". Secret-looking values go through mask.
func DescribeFlags(flags []string, mask func(string) string) []string {
	out := make([]string, 0, len(flags))
	for _, key := range flags {
		value, ok := os.LookupEnv(key)
		if !ok {
			out = append(out, fmt.Sprintf("%s is None", key))
			continue
		}
		if mask != nil && (strings.Contains(key, "KEY") || strings.Contains(key, "TOKEN")) {
			value = mask(value)
		}
		out = append(out, fmt.Sprintf("%s = '%s'", key, value))
	}
	return out
}

// WithProjectID sets the owner project.
func WithProjectID(projectID string) Option {
	return func(c *Config) error {
		if projectID == "" {
			return fmt.Errorf("project id must not be empty: %w", ErrInvalidConfiguration)
		}
		c.ProjectID = projectID
		return nil
	}
}

// WithDynatrace sets the ingest target.
func WithDynatrace(url, accessKey string) Option {
	return func(c *Config) error {
		c.Dynatrace.URL = url
		c.Dynatrace.AccessKey = accessKey
		return nil
	}
}

// WithQueryInterval sets the polling interval.
func WithQueryInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d < time.Minute {
			return fmt.Errorf("query interval must be at least 1 minute: %w", ErrInvalidConfiguration)
		}
		c.Execution.QueryInterval = d
		return nil
	}
}

// WithSelfMonitoring toggles pushing self-monitoring series.
func WithSelfMonitoring(enabled bool) Option {
	return func(c *Config) error {
		c.Execution.SelfMonitoringEnabled = enabled
		return nil
	}
}

// WithScopingProjectSupport toggles scoping-project mode.
func WithScopingProjectSupport(enabled bool) Option {
	return func(c *Config) error {
		c.Execution.ScopingProjectSupport = enabled
		return nil
	}
}

// WithConcurrency sets the per-level fan-out limits. Zero means unbounded.
func WithConcurrency(projects, extractors, fetches int) Option {
	return func(c *Config) error {
		if projects < 0 || extractors < 0 || fetches < 0 {
			return fmt.Errorf("concurrency limits must not be negative: %w", ErrInvalidConfiguration)
		}
		c.Execution.MaxConcurrentProjects = projects
		c.Execution.MaxConcurrentExtractors = extractors
		c.Execution.MaxConcurrentFetches = fetches
		return nil
	}
}

// WithRedisURL selects the Redis-backed cache.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Cache.RedisURL = url
		return nil
	}
}

// WithExtensionsDir sets the directory holding the service YAML files.
func WithExtensionsDir(dir string) Option {
	return func(c *Config) error {
		c.Services.ExtensionsDir = dir
		return nil
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithEnvFiles names .env files loaded before reading the environment.
func WithEnvFiles(files ...string) Option {
	return func(c *Config) error {
		c.Development.EnvFiles = append(c.Development.EnvFiles, files...)
		return nil
	}
}

func envInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalidEnv(key, v, err)
	}
	*target = n
	return nil
}

func invalidEnv(key, value string, err error) error {
	return fmt.Errorf("%s=%q: %v: %w", key, value, err, ErrInvalidConfiguration)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return strings.EqualFold(s, "yes") || strings.EqualFold(s, "on")
	}
	return b
}
