// Package governance is the reconciliation engine. It provisions the
// custom attribute group, badges and access policy in the catalog, resolves
// catalog identifiers, and writes per-asset and per-domain risk metadata,
// applying only the difference between desired and current tag sets.
//
// An Engine is built once per run. Its caches are rebuilt from the catalog
// on Init and are read-only while assets are synced, so UpdateAsset may be
// called from several goroutines.
package governance

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/metrics"
	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/logging"
)

// State is the engine's run state.
type State int

// Run states, in order.
const (
	StateUninitialized State = iota
	StateSchemaResolved
	StateReady
	StateSyncing
	StateAborted
	StateCompleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateSchemaResolved:
		return "schema_resolved"
	case StateReady:
		return "ready"
	case StateSyncing:
		return "syncing"
	case StateAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	default:
		return "uninitialized"
	}
}

// Options configures an Engine.
type Options struct {
	// Breaker must be the breaker of the transport behind the API.
	Breaker *transport.Breaker

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// SettleDelay is the pause after a typedef change before re-reading it.
	SettleDelay time.Duration

	// Sleeper performs the settle pause.
	Sleeper transport.Sleeper

	// Logo fetches the logo for UploadLogo. Nil disables upload.
	Logo LogoFetcher

	Logger *zerolog.Logger
}

// Engine reconciles risk summaries into the catalog.
type Engine struct {
	api     catalog.API
	breaker *transport.Breaker
	now     func() time.Time
	settle  time.Duration
	sleeper transport.Sleeper
	logo    LogoFetcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	state    State
	schema   *SchemaState
	registry *TagRegistry
	domains  *DomainIndex
	assets   AssetIndex

	// tagMu serializes tag creation.
	tagMu   sync.Mutex
	// applied holds the owned tags last written per asset this run.
	applied *gocache.Cache
	locks   keyedMutex

	abortOnce sync.Once
}

// New returns an uninitialized Engine.
func New(api catalog.API, opts Options) *Engine {
	if opts.Breaker == nil {
		opts.Breaker = transport.NewBreaker(constants.AbortThreshold)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = transport.TimerSleeper{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Engine{
		api:      api,
		breaker:  opts.Breaker,
		now:      opts.Now,
		settle:   opts.SettleDelay,
		sleeper:  opts.Sleeper,
		logo:     opts.Logo,
		logger:   opts.Logger.With().Str("component", "governance").Logger(),
		registry: NewTagRegistry(),
		domains:  NewDomainIndex(),
		assets:   AssetIndex{},
		applied:  gocache.New(gocache.NoExpiration, 0),
	}
}

// Init provisions the schema, badges and policy, then builds the tag
// registry, domain index and asset index. It reports whether the schema
// resolved; without it no asset can be written.
func (e *Engine) Init(ctx context.Context, imageID string) bool {
	schema := e.EnsureSchema(ctx, imageID)
	if schema == nil {
		e.logger.Error().Msg("Custom metadata could not be resolved; asset sync disabled")
		return false
	}
	e.EnsureBadges(ctx)
	e.EnsureMetadataPolicy(ctx)
	e.BuildRegistry(ctx)
	e.BuildAssetIndex(ctx)

	e.setState(StateReady)
	return true
}

// State returns the current run state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateAborted || e.state == StateCompleted {
		return
	}
	e.state = s
}

// Schema returns the resolved schema or nil.
func (e *Engine) Schema() *SchemaState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schema
}

func (e *Engine) setSchema(s *SchemaState) {
	e.mu.Lock()
	e.schema = s
	e.mu.Unlock()
	if s != nil {
		e.setState(StateSchemaResolved)
	}
}

// Registry returns the tag registry.
func (e *Engine) Registry() *TagRegistry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

// Domains returns the domain index.
func (e *Engine) Domains() *DomainIndex {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.domains
}

// Assets returns the asset index built by Init.
func (e *Engine) Assets() AssetIndex {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.assets
}

// ShouldAbort reports whether the permission breaker has tripped. Once it
// has, the engine moves to StateAborted and logs the cause once.
func (e *Engine) ShouldAbort() bool {
	if !e.breaker.ShouldAbort() {
		return false
	}
	e.abortOnce.Do(func() {
		e.mu.Lock()
		e.state = StateAborted
		e.mu.Unlock()
		metrics.SetAborted(true)
		e.logger.Error().
			Int("consecutive_403", e.breaker.Consecutive()).
			Msg("Aborting catalog sync: the API token lacks write permission for custom metadata. " +
				"Grant the token's persona business metadata update rights and rerun.")
	})
	return true
}

// Complete marks the run finished. An aborted run stays aborted.
func (e *Engine) Complete() {
	e.setState(StateCompleted)
}

func (e *Engine) pause(ctx context.Context) {
	if e.settle <= 0 {
		return
	}
	_ = e.sleeper.Sleep(ctx, e.settle)
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
