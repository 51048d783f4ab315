package governance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/logging"
	"github.com/agentstation/riskmap/pkg/risk"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "schema_resolved", StateSchemaResolved.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "syncing", StateSyncing.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "completed", StateCompleted.String())
}

func TestInit(t *testing.T) {
	api := newFakeCatalog()
	api.classDefs = []catalog.ClassificationDef{{Name: "TLX_OLD"}}
	seedAssets(api)
	e := newTestEngine(t, api)

	require.True(t, e.Init(context.Background(), ""))
	assert.Equal(t, StateReady, e.State())
	assert.NotNil(t, e.Schema())
	assert.True(t, e.Registry().Has("TLX_OLD"))
	assert.Equal(t, 2, e.Domains().Len())
	assert.NotEmpty(t, e.Assets().Lookup("SALES"))

	e.Complete()
	assert.Equal(t, StateCompleted, e.State())
}

func TestInitWithoutSchema(t *testing.T) {
	api := newFakeCatalog()
	api.fail["BusinessMetadataDefs"] = true
	e := newTestEngine(t, api)

	assert.False(t, e.Init(context.Background(), ""))
	assert.Equal(t, StateUninitialized, e.State())
	assert.Zero(t, api.count("ClassificationDefs"))
}

func TestShouldAbortLogsOnce(t *testing.T) {
	api := newFakeCatalog()
	tl := logging.NewTestLogger(t)
	e := New(api, Options{Breaker: api.breaker, Logger: tl.Logger})

	for i := 0; i < 3; i++ {
		api.breaker.RecordForbidden()
	}
	assert.True(t, e.ShouldAbort())
	assert.True(t, e.ShouldAbort())
	assert.Len(t, tl.Lines(), 1)
	tl.AssertContains(t, "write permission")
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	api := newFakeCatalog()
	e := readyEngine(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := AssetRef{GUID: "shared", TypeName: "Table", Name: "T", QualifiedName: "q"}
			if i%2 == 0 {
				ref.GUID = "other"
			}
			assert.True(t, e.UpdateAsset(ctx, ref, risk.Summary{Total: 1, Low: 1, Categories: map[string]int{"Stale Credentials": 1}}))
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"TLX_STALE_CREDENTIALS", "TLX_TRUSTLOGIX_RISKS_DETECTED"}, api.tagsOn("shared"))
	assert.Equal(t, 1, countCreated(api, "TLX_STALE_CREDENTIALS"))
}

func countCreated(api *fakeCatalog, name string) int {
	api.mu.Lock()
	defer api.mu.Unlock()
	n := 0
	for _, c := range api.classDefs {
		if c.Name == name {
			n++
		}
	}
	return n
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func logoClient(url string) *transport.Client {
	return transport.New(transport.Config{
		Service: "cdn",
		BaseURL: url,
		Auth:    &transport.NoAuth{},
		Sleeper: transport.SleeperFunc(func(context.Context, time.Duration) error { return nil }),
		Logger:  logging.NewNopLogger(),
	})
}

func TestUploadLogo(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer server.Close()

	dir := t.TempDir()
	api := newFakeCatalog()
	api.imageID = "img-9"
	e := New(api, Options{Breaker: api.breaker, Logo: HTTPLogoFetcher(logoClient(server.URL), dir), Logger: logging.NewNopLogger()})

	assert.Equal(t, "img-9", e.UploadLogo(ctx))
	cached, err := os.ReadFile(filepath.Join(dir, constants.LogoFilename))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, cached)

	api.imageID = ""
	assert.Empty(t, e.UploadLogo(ctx))

	assert.Empty(t, newTestEngine(t, api).UploadLogo(ctx))
}

func TestHTTPLogoFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(pngBytes)
	}))
	defer server.Close()

	data, err := HTTPLogoFetcher(logoClient(server.URL), "")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPLogoFetcherErrors(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	_, err := HTTPLogoFetcher(logoClient(notFound.URL), "")(context.Background())
	require.Error(t, err)

	notImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>moved</html>"))
	}))
	defer notImage.Close()

	_, err = HTTPLogoFetcher(logoClient(notImage.URL), "")(context.Background())
	assert.True(t, errors.IsValidationError(err))
}
