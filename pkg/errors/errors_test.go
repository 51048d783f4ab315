package errors_test

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/agentstation/riskmap/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := pkgerrors.New("test error")
	assert.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		status      int
		permission  bool
		notFound    bool
		rateLimited bool
		unavailable bool
	}{
		{status: 403, permission: true},
		{status: 400, notFound: true},
		{status: 404, notFound: true},
		{status: 409, notFound: true},
		{status: 429, rateLimited: true},
		{status: 500, unavailable: true},
		{status: 503, unavailable: true},
		{status: 401},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := pkgerrors.NewAPIError("catalog", "GET", "/api/meta/entity", tt.status, "body")
			assert.Equal(t, tt.permission, pkgerrors.IsPermissionDenied(err))
			assert.Equal(t, tt.notFound, pkgerrors.IsNotFound(err))
			assert.Equal(t, tt.rateLimited, pkgerrors.IsRateLimited(err))
			assert.Equal(t, tt.unavailable, pkgerrors.IsUnavailable(err))
		})
	}
}

func TestAPIError(t *testing.T) {
	t.Run("with status code", func(t *testing.T) {
		err := pkgerrors.NewAPIError("catalog", "POST", "/api/meta/entity/bulk", 429, "slow down")
		assert.Contains(t, err.Error(), "catalog")
		assert.Contains(t, err.Error(), "429")
		assert.Contains(t, err.Error(), "slow down")
	})

	t.Run("with wrapped error", func(t *testing.T) {
		base := errors.New("connection reset")
		err := &pkgerrors.APIError{Service: "scanner", Method: "GET", Endpoint: "/api/account", Message: "request failed", Err: base}
		assert.True(t, errors.Is(err, base))
		assert.NotContains(t, err.Error(), "status")
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Field: "workers", Message: "must be positive"}
		assert.Equal(t, "validation failed for field workers: must be positive", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrInvalidInput))
	})

	t.Run("without field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("", nil, "invalid configuration")
		assert.Equal(t, "validation failed: invalid configuration", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}

func TestSyncError(t *testing.T) {
	err := pkgerrors.WrapSync("domains", pkgerrors.ErrAborted)
	assert.Equal(t, "sync failed during domains: run aborted", err.Error())
	assert.True(t, pkgerrors.IsAborted(err))
	assert.Nil(t, pkgerrors.WrapSync("scan", nil))
}

func TestWrapHelpers(t *testing.T) {
	assert.Nil(t, pkgerrors.WrapIO("read", "x", nil))
	assert.Nil(t, pkgerrors.WrapParse("yaml", "x", nil))

	base := errors.New("boom")
	ioErr := pkgerrors.WrapIO("read", "/tmp/snapshot.yaml", base)
	assert.Contains(t, ioErr.Error(), "/tmp/snapshot.yaml")
	assert.True(t, errors.Is(ioErr, base))

	parseErr := pkgerrors.WrapParse("yaml", "snapshot.yaml", base)
	assert.Equal(t, "parse error in yaml file snapshot.yaml: boom", parseErr.Error())
}

func TestAuthenticationError(t *testing.T) {
	err := &pkgerrors.AuthenticationError{Service: "scanner", Method: "credentials", Message: "no token in response"}
	assert.Contains(t, err.Error(), "credentials")
	assert.True(t, pkgerrors.IsPermissionDenied(err))
}

func TestConfigError(t *testing.T) {
	base := errors.New("missing")
	err := pkgerrors.NewConfigError("scanner", "TRUSTLOGIX_BASE_URL is missing", base)
	assert.Equal(t, "configuration error in scanner: TRUSTLOGIX_BASE_URL is missing", err.Error())
	assert.True(t, errors.Is(err, base))
}
