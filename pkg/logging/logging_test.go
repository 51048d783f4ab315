package logging_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/riskmap/pkg/logging"
)

func TestConfigFunctions(t *testing.T) {
	originalLogger := *logging.Default()
	originalLevel := zerolog.GlobalLevel()
	defer func() {
		logging.SetDefault(originalLogger)
		zerolog.SetGlobalLevel(originalLevel)
	}()

	t.Run("DefaultConfig returns sensible defaults", func(t *testing.T) {
		cfg := logging.DefaultConfig()
		assert.Equal(t, "info", cfg.Level)
		assert.Equal(t, "auto", cfg.Format)
		assert.Equal(t, "stderr", cfg.Output)
		assert.False(t, cfg.AddCaller)
	})

	t.Run("Configure filters below level", func(t *testing.T) {
		tmpfile, err := os.CreateTemp(t.TempDir(), "test-log-*.txt")
		require.NoError(t, err)
		defer tmpfile.Close()

		logging.Configure(&logging.Config{
			Level:  "warn",
			Format: "json",
			Output: tmpfile.Name(),
		})

		logging.Debug().Msg("debug message")
		logging.Info().Msg("info message")
		logging.Warn().Msg("warn message")
		logging.Error().Msg("error message")

		content, err := os.ReadFile(tmpfile.Name())
		require.NoError(t, err)
		output := string(content)
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("default fields are attached", func(t *testing.T) {
		tmpfile, err := os.CreateTemp(t.TempDir(), "test-log-*.txt")
		require.NoError(t, err)
		defer tmpfile.Close()

		logger := logging.NewLoggerFromConfig(&logging.Config{
			Level:  "info",
			Format: "json",
			Output: tmpfile.Name(),
			Fields: map[string]any{"service": "riskmap"},
		})
		logger.Info().Msg("with fields")

		content, err := os.ReadFile(tmpfile.Name())
		require.NoError(t, err)
		assert.Contains(t, string(content), `"service":"riskmap"`)
	})

	t.Run("console format uses short level names", func(t *testing.T) {
		tmpfile, err := os.CreateTemp(t.TempDir(), "test-log-*.txt")
		require.NoError(t, err)
		defer tmpfile.Close()

		logger := logging.NewLoggerFromConfig(&logging.Config{
			Level:   "info",
			Format:  "console",
			Output:  tmpfile.Name(),
			NoColor: true,
		})
		logger.Info().Msg("console test")

		content, err := os.ReadFile(tmpfile.Name())
		require.NoError(t, err)
		assert.Contains(t, string(content), "INF")
	})
}

func TestDefaultLogger(t *testing.T) {
	original := *logging.Default()
	defer logging.SetDefault(original)

	var buf bytes.Buffer
	logging.SetDefault(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logging.Info().Msg("info message")
	logging.Err(assert.AnError).Msg("error message")
	logging.Component("transport").Info().Msg("component message")

	output := buf.String()
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, assert.AnError.Error())
	assert.Contains(t, output, `"component":"transport"`)
}

func TestContextLogger(t *testing.T) {
	testLogger := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), testLogger.Logger)
	ctx = logging.WithRunID(ctx, "run-1")
	ctx = logging.WithAccount(ctx, "snowflake-prod")
	ctx = logging.WithAsset(ctx, "guid-1")
	ctx = logging.WithDomain(ctx, "Finance")
	ctx = logging.WithOperation(ctx, "sync_tags")

	logging.FromContext(ctx).Info().Msg("context message")

	assert.Equal(t, "run-1", logging.RunID(ctx))
	testLogger.AssertContains(t, `"run_id":"run-1"`)
	testLogger.AssertContains(t, `"account":"snowflake-prod"`)
	testLogger.AssertContains(t, `"asset_guid":"guid-1"`)
	testLogger.AssertContains(t, `"domain":"Finance"`)
	testLogger.AssertContains(t, `"operation":"sync_tags"`)
	assert.Len(t, testLogger.Lines(), 1)

	testLogger.Clear()
	assert.Empty(t, testLogger.Lines())
}

func TestFromContextDefaults(t *testing.T) {
	assert.Equal(t, logging.Default(), logging.FromContext(context.TODO()))
	assert.Equal(t, "", logging.RunID(context.Background()))
	assert.NotNil(t, logging.NewNopLogger())
}
