// Package transport implements the resilient request client shared by the
// catalog and scanner adapters: fixed timeouts, a small retry budget with
// an escalating backoff schedule, status classification and a fail-fast
// breaker on consecutive permission errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/agentstation/riskmap/internal/metrics"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/logging"
)

// okBody is returned for successful responses with an empty body.
var okBody = json.RawMessage(`{"status":"ok"}`)

// Config configures a Client. Zero values take the package defaults.
type Config struct {
	// Service names the remote system in logs and errors ("catalog", "scanner").
	Service string

	// BaseURL is prefixed to every endpoint.
	BaseURL string

	// APIKey is passed to Auth on every request.
	APIKey string

	// Auth applies APIKey. Defaults to BearerAuth.
	Auth Authenticator

	// Headers are set on every request.
	Headers map[string]string

	DialTimeout time.Duration
	ReadTimeout time.Duration

	// MaxRetries is the attempt budget per call.
	MaxRetries int

	// MaxRateLimitRetries bounds 429 waits per call.
	MaxRateLimitRetries int

	// Backoff is the delay schedule indexed by consumed attempts.
	Backoff []time.Duration

	// RateLimit paces requests per second. Zero disables pacing.
	RateLimit float64

	// Breaker is shared by every client writing to the same system.
	Breaker *Breaker

	Sleeper    Sleeper
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client performs JSON requests against one remote system.
type Client struct {
	service string
	baseURL string
	apiKey  string
	auth    Authenticator
	headers map[string]string
	http    *http.Client
	retries int
	rlLimit int
	backoff []time.Duration
	limiter *rate.Limiter
	breaker *Breaker
	sleeper Sleeper
	logger  zerolog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Service == "" {
		cfg.Service = "remote"
	}
	if cfg.Auth == nil {
		cfg.Auth = &BearerAuth{}
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = constants.DialTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = constants.ReadTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = constants.MaxRetries
	}
	if cfg.MaxRateLimitRetries <= 0 {
		cfg.MaxRateLimitRetries = constants.MaxRateLimitRetries
	}
	if cfg.Backoff == nil {
		cfg.Backoff = constants.BackoffSchedule
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(constants.AbortThreshold)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.DialTimeout, cfg.ReadTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	c := &Client{
		service: cfg.Service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		auth:    cfg.Auth,
		headers: cfg.Headers,
		http:    cfg.HTTPClient,
		retries: cfg.MaxRetries,
		rlLimit: cfg.MaxRateLimitRetries,
		backoff: cfg.Backoff,
		breaker: cfg.Breaker,
		sleeper: cfg.Sleeper,
		logger:  cfg.Logger.With().Str("service", cfg.Service).Logger(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func newHTTPClient(dial, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = read
	return &http.Client{Timeout: dial + read, Transport: transport}
}

// Breaker returns the client's breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// ShouldAbort reports whether the breaker has tripped.
func (c *Client) ShouldAbort() bool {
	return c.breaker.ShouldAbort()
}

// Call performs a request and returns the JSON body, or false when the
// call failed for any reason. Failures are logged and never returned.
func (c *Client) Call(ctx context.Context, method, endpoint string, body any, params url.Values) (json.RawMessage, bool) {
	data, err := c.Request(ctx, method, endpoint, body, params)
	if err != nil {
		return nil, false
	}
	return data, true
}

// CallInto performs a request and decodes the body into out.
func (c *Client) CallInto(ctx context.Context, method, endpoint string, body any, params url.Values, out any) bool {
	data, ok := c.Call(ctx, method, endpoint, body, params)
	if !ok {
		return false
	}
	if out == nil {
		return true
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error().
			Err(errors.WrapParse("json", endpoint, err)).
			Str("method", method).
			Str("endpoint", endpoint).
			Msg("Could not decode response")
		return false
	}
	return true
}

// Request performs a request with the retry policy and returns the body or
// a classified error. Status handling:
//
//	2xx          success, resets the breaker
//	400/404/409  not applicable now, no retry
//	403          counted by the breaker, no retry
//	429          waits Retry-After, does not consume an attempt
//	5xx, network retried with backoff
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, params url.Values) (json.RawMessage, error) {
	payload, err := encodeBody(body)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("Could not encode request body")
		return nil, err
	}

	log := c.logger.With().Str("method", method).Str("endpoint", endpoint).Logger()
	state := retryState{}
	var lastErr error

	for state.attempt < c.retries {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, method, endpoint, payload, params, "application/json")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = connError(err)
			metrics.RecordRequest(method, metrics.OutcomeConnError)
			log.Warn().Err(err).Int("attempt", state.attempt+1).Msg("Connection error")
			if err := c.next(ctx, &state, "connection_error"); err != nil {
				return nil, err
			}
			continue
		}

		data, readErr := readBody(resp)
		if readErr != nil {
			lastErr = errors.WrapIO("read", endpoint, readErr)
			metrics.RecordRequest(method, metrics.OutcomeConnError)
			log.Warn().Err(readErr).Int("attempt", state.attempt+1).Msg("Could not read response body")
			if err := c.next(ctx, &state, "connection_error"); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode
		apiErr := errors.NewAPIError(c.service, method, endpoint, status, truncate(data))

		switch classify(status) {
		case classSuccess:
			metrics.RecordRequest(method, metrics.OutcomeSuccess)
			c.breaker.RecordSuccess()
			if len(bytes.TrimSpace(data)) == 0 {
				return okBody, nil
			}
			return json.RawMessage(data), nil

		case classForbidden:
			metrics.RecordRequest(method, metrics.OutcomeForbidden)
			count := c.breaker.RecordForbidden()
			log.Error().Int("status", status).Int("consecutive", count).Str("body", truncate(data)).Msg("Permission denied")
			return nil, apiErr

		case classClientError:
			metrics.RecordRequest(method, metrics.OutcomeClientError)
			log.Debug().Int("status", status).Str("body", truncate(data)).Msg("Request not applicable")
			return nil, apiErr

		case classRateLimited:
			metrics.RecordRequest(method, metrics.OutcomeRateLimited)
			lastErr = apiErr
			if state.rateLimited >= c.rlLimit {
				log.Error().Int("waits", state.rateLimited).Msg("Rate limit persisted, giving up")
				return nil, apiErr
			}
			wait := retryAfter(resp.Header, state.backoff(c.backoff))
			log.Warn().Dur("wait", wait).Msg("Rate limited, waiting")
			if err := c.pause(ctx, &state, wait, "rate_limited"); err != nil {
				return nil, err
			}
			state.rateLimited++

		case classServerError:
			metrics.RecordRequest(method, metrics.OutcomeServerError)
			lastErr = apiErr
			log.Warn().Int("status", status).Int("attempt", state.attempt+1).Msg("Server error")
			if err := c.next(ctx, &state, "server_error"); err != nil {
				return nil, err
			}

		default:
			metrics.RecordRequest(method, metrics.OutcomeUnexpected)
			log.Error().Int("status", status).Str("body", truncate(data)).Msg("Unexpected response status")
			return nil, apiErr
		}
	}

	log.Error().Err(lastErr).Int("attempts", state.attempt).Dur("slept", state.slept).Msg("Request failed after all retries")
	if lastErr == nil {
		lastErr = errors.ErrUnavailable
	}
	return nil, lastErr
}

// Upload posts a single multipart file. It makes one attempt and does not
// feed the breaker.
func (c *Client) Upload(ctx context.Context, endpoint, field, filename string, content []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, errors.WrapIO("write", filename, err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, errors.WrapIO("write", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.WrapIO("write", filename, err)
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, buf.Bytes(), nil, w.FormDataContentType())
	if err != nil {
		metrics.RecordRequest(http.MethodPost, metrics.OutcomeConnError)
		return nil, connError(err)
	}
	data, err := readBody(resp)
	if err != nil {
		return nil, errors.WrapIO("read", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		metrics.RecordRequest(http.MethodPost, metrics.OutcomeClientError)
		return nil, errors.NewAPIError(c.service, http.MethodPost, endpoint, resp.StatusCode, truncate(data))
	}
	metrics.RecordRequest(http.MethodPost, metrics.OutcomeSuccess)
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(data), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, params url.Values, contentType string) (*http.Response, error) {
	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.auth.Apply(req, c.apiKey)

	return c.http.Do(req)
}

// next consumes an attempt and sleeps the scheduled backoff when another
// attempt remains.
func (c *Client) next(ctx context.Context, state *retryState, reason string) error {
	delay := state.backoff(c.backoff)
	state.attempt++
	if state.attempt >= c.retries {
		return nil
	}
	return c.pause(ctx, state, delay, reason)
}

func (c *Client) pause(ctx context.Context, state *retryState, d time.Duration, reason string) error {
	metrics.RecordRetry(reason)
	if err := c.sleeper.Sleep(ctx, d); err != nil {
		return err
	}
	state.slept += d
	return nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapParse("json", "request body", err)
		}
		return data, nil
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

func connError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", errors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
}

func truncate(data []byte) string {
	if len(data) > constants.LogBodyLimit {
		return string(data[:constants.LogBodyLimit])
	}
	return string(data)
}
