package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/riskmap/internal/report"
	"github.com/agentstation/riskmap/internal/sources/trustlogix"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
)

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Catalog
	AtlanBaseURL string
	AtlanAPIKey  string

	// Scanner
	TrustLogixBaseURL  string
	TrustLogixTenantID string
	AuthMethod         string
	TrustLogixAPIKey   string
	ClientID           string
	ClientSecret       string
	TargetDatabases    []string

	// SnapshotFile replaces the live scanner with a YAML export.
	SnapshotFile string

	// Run
	ReportPath   string
	ReportFormat string
	Workers      int
	MetricsAddr  string
	UploadLogo   bool
	LogoCacheDir string
	RateLimit    float64

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (~/.riskmap.yaml or ./.riskmap.yaml)
// 5. Defaults
func LoadConfig() (*Config, error) {
	// .env.local overrides .env; neither overrides the real environment
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("AUTH_METHOD", trustlogix.AuthCredentials)
	v.SetDefault("WORKERS", 4)
	v.SetDefault("UPLOAD_LOGO", true)
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("LOG_FORMAT", "auto")
	v.SetDefault("LOG_OUTPUT", "stderr")

	if configFile := os.Getenv("RISKMAP_CONFIG"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".riskmap")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && os.Getenv("RISKMAP_CONFIG") != "" {
			return nil, errors.NewConfigError("config", "could not read config file", err)
		}
	}

	cacheDir := v.GetString("LOGO_CACHE_DIR")
	if cacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cacheDir = filepath.Join(dir, "riskmap")
		}
	}

	return &Config{
		ConfigFile: v.ConfigFileUsed(),

		AtlanBaseURL: strings.TrimRight(v.GetString("ATLAN_BASE_URL"), "/"),
		AtlanAPIKey:  v.GetString("ATLAN_API_KEY"),

		TrustLogixBaseURL:  strings.TrimRight(v.GetString("TRUSTLOGIX_BASE_URL"), "/"),
		TrustLogixTenantID: v.GetString("TRUSTLOGIX_TENANT_ID"),
		AuthMethod:         strings.ToLower(v.GetString("AUTH_METHOD")),
		TrustLogixAPIKey:   v.GetString("TRUSTLOGIX_API_KEY"),
		ClientID:           v.GetString("CLIENT_ID"),
		ClientSecret:       v.GetString("CLIENT_SECRET"),
		TargetDatabases:    splitList(v.GetString("TARGET_DATABASES")),

		SnapshotFile: v.GetString("SNAPSHOT_FILE"),

		ReportPath:   v.GetString("REPORT_PATH"),
		ReportFormat: v.GetString("REPORT_FORMAT"),
		Workers:      v.GetInt("WORKERS"),
		MetricsAddr:  v.GetString("METRICS_ADDR"),
		UploadLogo:   v.GetBool("UPLOAD_LOGO"),
		LogoCacheDir: cacheDir,
		RateLimit:    v.GetFloat64("RATE_LIMIT"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),
		LogOutput: v.GetString("LOG_OUTPUT"),
	}, nil
}

// UpdateFromFlags applies parsed global flag values. Flags take
// precedence over config files and the environment.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// Validate checks values that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.NewValidationError("WORKERS", c.Workers, "must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.NewValidationError("RATE_LIMIT", c.RateLimit, "must not be negative")
	}
	if _, err := report.ParseFormat(c.ReportFormat); err != nil {
		return err
	}
	if c.Format != "" {
		if _, err := report.ParseFormat(c.Format); err != nil {
			return err
		}
	}
	if c.SnapshotFile == "" {
		switch c.AuthMethod {
		case trustlogix.AuthCredentials, trustlogix.AuthBearer:
		default:
			return errors.NewValidationError("AUTH_METHOD", c.AuthMethod, "must be credentials or bearer")
		}
	}
	return nil
}

// IsCatalogConfigured reports whether catalog writes can be attempted.
// The sample env file ships a placeholder host that counts as unset.
func (c *Config) IsCatalogConfigured() bool {
	return c.AtlanAPIKey != "" &&
		c.AtlanBaseURL != "" &&
		!strings.Contains(c.AtlanBaseURL, constants.PlaceholderHost)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
