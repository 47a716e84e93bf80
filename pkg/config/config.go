package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conductorone/baton-session-auth/pkg/logging"
	"github.com/conductorone/baton-session-auth/pkg/uotel"
)

const (
	EnvPrefix         = "baton_session_auth"
	ConfigPathEnvName = "BATON_SESSION_AUTH_CONFIG_PATH"
)

var ErrMissingPublicKey = errors.New("public-key is required")

// Config is the runtime configuration shared by every command.
type Config struct {
	PublicKey      PEM           `mapstructure:"public-key"`
	RequiredScheme string        `mapstructure:"required-scheme"`
	Leeway         time.Duration `mapstructure:"leeway"`

	CacheSize int           `mapstructure:"cache-size"`
	CacheTTL  time.Duration `mapstructure:"cache-ttl"`

	ListenAddress string `mapstructure:"listen-address"`
	HealthEnabled bool   `mapstructure:"health-enabled"`
	HealthAddress string `mapstructure:"health-address"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	MetricsStdout   bool          `mapstructure:"metrics-stdout"`
	MetricsInterval time.Duration `mapstructure:"metrics-interval"`

	OtelCollectorEndpoint    string `mapstructure:"otel-collector-endpoint"`
	OtelCollectorTLSCertPath string `mapstructure:"otel-collector-endpoint-tls-cert-path"`
	OtelCollectorTLSCert     string `mapstructure:"otel-collector-endpoint-tls-cert"`
	OtelCollectorInsecure    bool   `mapstructure:"otel-collector-endpoint-tls-insecure"`
	OtelTracingDisabled      bool   `mapstructure:"otel-tracing-disabled"`
	OtelLoggingDisabled      bool   `mapstructure:"otel-logging-disabled"`
}

// PersistentFlags registers the flags every command understands.
func PersistentFlags(fs *pflag.FlagSet) {
	fs.String("public-key", "", "PEM encoded EC P-256 public key, or a path to one ($BATON_SESSION_AUTH_PUBLIC_KEY)")
	fs.String("required-scheme", "", "If set, the authorization scheme must match this value ($BATON_SESSION_AUTH_REQUIRED_SCHEME)")
	fs.Duration("leeway", 60*time.Second, "Clock skew tolerated when checking token expiry ($BATON_SESSION_AUTH_LEEWAY)")
	fs.String("log-level", "info", "The log level: debug, info, warn, error ($BATON_SESSION_AUTH_LOG_LEVEL)")
	fs.String("log-format", logging.LogFormatJSON, "The output format for logs: json, console ($BATON_SESSION_AUTH_LOG_FORMAT)")
}

// ServeFlags registers the flags used by the serve command.
func ServeFlags(fs *pflag.FlagSet) {
	fs.Int("cache-size", 10_000, "Number of verified tokens to remember, 0 disables the cache ($BATON_SESSION_AUTH_CACHE_SIZE)")
	fs.Duration("cache-ttl", 5*time.Minute, "How long a verified token is remembered ($BATON_SESSION_AUTH_CACHE_TTL)")
	fs.String("listen-address", "127.0.0.1:9090", "Address the gRPC server listens on ($BATON_SESSION_AUTH_LISTEN_ADDRESS)")
	fs.Bool("health-enabled", false, "Serve HTTP health endpoints ($BATON_SESSION_AUTH_HEALTH_ENABLED)")
	fs.String("health-address", "127.0.0.1:8081", "Address of the HTTP health server ($BATON_SESSION_AUTH_HEALTH_ADDRESS)")
	fs.Bool("metrics-stdout", false, "Export metrics to stdout ($BATON_SESSION_AUTH_METRICS_STDOUT)")
	fs.Duration("metrics-interval", time.Minute, "Metric export interval ($BATON_SESSION_AUTH_METRICS_INTERVAL)")
	fs.String("otel-collector-endpoint", "", "OpenTelemetry collector endpoint for logs and traces ($BATON_SESSION_AUTH_OTEL_COLLECTOR_ENDPOINT)")
	fs.String("otel-collector-endpoint-tls-cert-path", "", "Path to the collector CA certificate ($BATON_SESSION_AUTH_OTEL_COLLECTOR_ENDPOINT_TLS_CERT_PATH)")
	fs.String("otel-collector-endpoint-tls-cert", "", "Base64url encoded collector CA certificate ($BATON_SESSION_AUTH_OTEL_COLLECTOR_ENDPOINT_TLS_CERT)")
	fs.Bool("otel-collector-endpoint-tls-insecure", false, "Connect to the collector without TLS ($BATON_SESSION_AUTH_OTEL_COLLECTOR_ENDPOINT_TLS_INSECURE)")
	fs.Bool("otel-tracing-disabled", false, "Do not export traces ($BATON_SESSION_AUTH_OTEL_TRACING_DISABLED)")
	fs.Bool("otel-logging-disabled", false, "Do not export logs ($BATON_SESSION_AUTH_OTEL_LOGGING_DISABLED)")
}

// Load reads configuration from the config file, the environment and the
// flags of cmd, in increasing order of precedence.
func Load(cmd *cobra.Command) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	path, name, err := CleanOrGetConfigPath(os.Getenv(ConfigPathEnvName))
	if err != nil {
		return nil, nil, err
	}
	v.SetConfigName(name)
	v.AddConfigPath(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return nil, nil, err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(ComposeDecodeHookFunc())); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, v, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if c.PublicKey == "" {
		return ErrMissingPublicKey
	}

	switch c.LogFormat {
	case "", logging.LogFormatJSON, logging.LogFormatConsole:
	default:
		return fmt.Errorf("invalid log-format %q", c.LogFormat)
	}

	if c.Leeway < 0 {
		return fmt.Errorf("leeway must not be negative")
	}

	if c.CacheSize < 0 {
		return fmt.Errorf("cache-size must not be negative")
	}

	if c.OtelCollectorTLSCertPath != "" && c.OtelCollectorTLSCert != "" {
		return uotel.ErrCertConflict
	}

	return nil
}

// LoggingOptions translates the logging settings for logging.Init.
func (c *Config) LoggingOptions() []logging.Option {
	return []logging.Option{
		logging.WithLogLevel(c.LogLevel),
		logging.WithLogFormat(c.LogFormat),
	}
}

// TelemetryOptions translates the OpenTelemetry settings for uotel.Init.
func (c *Config) TelemetryOptions(version string) []uotel.Option {
	opts := []uotel.Option{
		uotel.WithServiceVersion(version),
	}

	if c.OtelCollectorEndpoint != "" {
		if c.OtelCollectorInsecure {
			opts = append(opts, uotel.WithInsecureOtelEndpoint(c.OtelCollectorEndpoint))
		} else {
			opts = append(opts, uotel.WithOtelEndpoint(c.OtelCollectorEndpoint, c.OtelCollectorTLSCertPath, c.OtelCollectorTLSCert))
		}
	}
	if c.OtelTracingDisabled {
		opts = append(opts, uotel.WithTracingDisabled())
	}
	if c.OtelLoggingDisabled {
		opts = append(opts, uotel.WithLoggingDisabled())
	}
	if c.MetricsStdout {
		opts = append(opts, uotel.WithStdoutMetrics(nil, c.MetricsInterval))
	}

	return opts
}
