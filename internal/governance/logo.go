package governance

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
)

// LogoFetcher returns the PNG bytes of the attribute group logo.
type LogoFetcher func(ctx context.Context) ([]byte, error)

// NewLogoClient returns an unauthenticated transport client for the logo
// URL. Its breaker is private so CDN errors never count toward a catalog abort.
func NewLogoClient(url string, logger *zerolog.Logger) *transport.Client {
	return transport.New(transport.Config{
		Service:     "cdn",
		BaseURL:     url,
		Auth:        &transport.NoAuth{},
		ReadTimeout: constants.LogoDownloadTimeout,
		Breaker:     transport.NewBreaker(constants.AbortThreshold),
		Logger:      logger,
	})
}

// HTTPLogoFetcher downloads the logo through client once and caches it
// under cacheDir. An empty cacheDir disables caching.
func HTTPLogoFetcher(client *transport.Client, cacheDir string) LogoFetcher {
	return func(ctx context.Context) ([]byte, error) {
		var cached string
		if cacheDir != "" {
			cached = filepath.Join(cacheDir, constants.LogoFilename)
			if data, err := os.ReadFile(cached); err == nil && len(data) > 0 {
				return data, nil
			}
		}

		ctx, cancel := context.WithTimeout(ctx, constants.LogoDownloadTimeout)
		defer cancel()
		data, err := client.Request(ctx, http.MethodGet, "", nil, nil)
		if err != nil {
			return nil, err
		}
		if ct := http.DetectContentType(data); ct != "image/png" {
			return nil, errors.NewValidationError("logo", ct, "expected image/png")
		}

		if cached != "" {
			if err := os.MkdirAll(cacheDir, constants.DirPermissions); err == nil {
				_ = os.WriteFile(cached, data, constants.FilePermissions)
			}
		}
		return data, nil
	}
}

// UploadLogo uploads the logo and returns its image id, or "" when upload
// is disabled or fails. Schema options fall back to the public URL then.
func (e *Engine) UploadLogo(ctx context.Context) string {
	if e.logo == nil {
		return ""
	}
	data, err := e.logo(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Could not fetch logo")
		return ""
	}
	id, ok := e.api.UploadImage(ctx, constants.LogoFilename, data)
	if !ok {
		e.logger.Debug().Msg("Logo upload failed; using public logo URL")
		return ""
	}
	e.logger.Info().Str("image_id", id).Int("bytes", len(data)).Msg("Uploaded logo")
	return id
}
