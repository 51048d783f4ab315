package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryState is the per-call retry bookkeeping. attempt counts consumed
// attempts; rate-limited waits are tracked separately and do not consume one.
type retryState struct {
	attempt     int
	rateLimited int
	slept       time.Duration
}

// backoff returns the scheduled delay after the current attempt.
func (s *retryState) backoff(schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if s.attempt < len(schedule) {
		return schedule[s.attempt]
	}
	return schedule[len(schedule)-1]
}

// retryAfter returns the server-specified wait in seconds, or fallback.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// class is the handling category of an HTTP status.
type class int

const (
	classSuccess class = iota
	classClientError
	classForbidden
	classRateLimited
	classServerError
	classUnexpected
)

func classify(status int) class {
	switch {
	case status >= 200 && status < 300:
		return classSuccess
	case status == http.StatusForbidden:
		return classForbidden
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusConflict:
		return classClientError
	case status == http.StatusTooManyRequests:
		return classRateLimited
	case status >= 500:
		return classServerError
	default:
		return classUnexpected
	}
}
