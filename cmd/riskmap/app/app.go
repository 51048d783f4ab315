// Package app provides the application context and dependency wiring
// for the riskmap CLI: configuration, logging, the scanner source and the
// catalog engine.
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/governance"
	"github.com/agentstation/riskmap/internal/metrics"
	"github.com/agentstation/riskmap/internal/sources/trustlogix"
	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/scanner"
)

// App represents the riskmap application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger
	out    io.Writer

	mu      sync.Mutex
	metrics *metrics.Server
}

// New creates a new App with configuration loaded from the environment.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		out:     os.Stdout,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Source returns the scanner source: the snapshot file when configured,
// otherwise the live TrustLogix API.
func (a *App) Source(ctx context.Context) (scanner.Source, error) {
	if a.config.SnapshotFile != "" {
		a.logger.Info().Str("path", a.config.SnapshotFile).Msg("Reading scanner snapshot")
		src, err := scanner.NewFileSource(a.config.SnapshotFile)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	client, err := trustlogix.New(ctx, trustlogix.Config{
		BaseURL:         a.config.TrustLogixBaseURL,
		TenantID:        a.config.TrustLogixTenantID,
		AuthMethod:      a.config.AuthMethod,
		APIKey:          a.config.TrustLogixAPIKey,
		ClientID:        a.config.ClientID,
		ClientSecret:    a.config.ClientSecret,
		TargetDatabases: a.config.TargetDatabases,
		RateLimit:       a.config.RateLimit,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Engine builds the catalog engine, or returns nil when the catalog is
// not configured.
func (a *App) Engine() *governance.Engine {
	if !a.config.IsCatalogConfigured() {
		return nil
	}

	breaker := transport.NewBreaker(constants.AbortThreshold)
	tc := transport.New(transport.Config{
		Service:   "catalog",
		BaseURL:   a.config.AtlanBaseURL,
		APIKey:    a.config.AtlanAPIKey,
		RateLimit: a.config.RateLimit,
		Breaker:   breaker,
		Logger:    a.logger,
	})

	var logo governance.LogoFetcher
	if a.config.UploadLogo {
		logo = governance.HTTPLogoFetcher(governance.NewLogoClient(constants.LogoURL, a.logger), a.config.LogoCacheDir)
	}

	return governance.New(catalog.NewClient(tc, a.logger), governance.Options{
		Breaker:     breaker,
		SettleDelay: constants.SchemaSettleDelay,
		Logo:        logo,
		Logger:      a.logger,
	})
}

// StartMetrics serves prometheus metrics on addr until Shutdown.
func (a *App) StartMetrics(addr string) error {
	if addr == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metrics != nil {
		return nil
	}
	srv, err := metrics.Start(addr, a.logger)
	if err != nil {
		return errors.NewConfigError("metrics", "could not listen on "+addr, err)
	}
	a.metrics = srv
	return nil
}

// Shutdown stops background services.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	srv := a.metrics
	a.metrics = nil
	a.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithOutput sets where command output is written.
func WithOutput(w io.Writer) Option {
	return func(a *App) error {
		a.out = w
		return nil
	}
}
