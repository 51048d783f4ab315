// Package runner executes one full reconciliation pass: scan accounts,
// sync each database's catalog assets, group accounts by domain, sync the
// domain rollups and produce the report.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/riskmap/internal/governance"
	"github.com/agentstation/riskmap/internal/report"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/logging"
	"github.com/agentstation/riskmap/pkg/scanner"
)

// Options configures a run.
type Options struct {
	// Source supplies accounts and hierarchies. Required.
	Source scanner.Source

	// Engine writes to the catalog. Nil runs in report-only mode.
	Engine *governance.Engine

	// Workers bounds concurrent asset writes per database. Values below 1 mean 1.
	Workers int

	// RunID labels logs and the report. Generated when empty.
	RunID string

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Run performs one pass and returns the report. A panic anywhere in the
// pass is recovered: the report gathered so far is returned together with
// a *errors.SyncError.
func Run(ctx context.Context, opts Options) (rep *report.Report, err error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	ctx = logging.WithLogger(ctx, opts.Logger)
	ctx = logging.WithRunID(ctx, opts.RunID)
	log := logging.FromContext(ctx)

	rep = &report.Report{RunID: opts.RunID, GeneratedAt: opts.Now().UTC()}
	r := &run{opts: opts, engine: opts.Engine, builder: report.NewBuilder()}

	defer func() {
		if p := recover(); p != nil {
			stack := debug.Stack()
			if wp, ok := p.(*workerPanic); ok {
				p, stack = wp.value, wp.stack
			}
			err = errors.NewSyncError(r.stage, fmt.Errorf("panic: %v", p))
			log.Error().Err(err).Str("stack", string(stack)).Msg("Fatal execution error")
			rep.Error = err.Error()
			rep.Aborted = rep.Aborted || r.aborted
			rep.Domains = r.builder.Build()
		}
	}()

	if opts.Source == nil {
		return rep, errors.NewConfigError("runner", "no scanner source configured", nil)
	}

	r.stage = "init"
	if r.engine != nil {
		log.Info().Msg("Initializing catalog governance engine")
		if !r.engine.Init(ctx, r.engine.UploadLogo(ctx)) {
			log.Warn().Msg("Catalog init failed, continuing in report-only mode")
			r.engine = nil
		}
	} else {
		log.Info().Msg("Catalog not configured, running in report-only mode")
	}
	rep.CatalogEnabled = r.engine != nil

	r.stage = "scan"
	log.Info().Msg("Starting scan")
	accounts, err := opts.Source.ListAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not list scanner accounts")
		rep.Error = err.Error()
		return rep, errors.WrapSync("scan", err)
	}
	log.Info().Int("accounts", len(accounts)).Msg("Found active accounts to scan")

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, rep), errors.WrapSync("scan", err)
		}
		r.processAccount(ctx, account)
	}

	r.stage = "domains"
	rep.Domains = r.builder.Build()
	if r.engine != nil && !r.aborted {
		r.syncDomains(ctx, rep.Domains)
	}

	return r.finish(ctx, rep), nil
}

type run struct {
	opts    Options
	engine  *governance.Engine
	builder *report.Builder
	stage   string
	aborted bool
}

func (r *run) processAccount(ctx context.Context, account scanner.Account) {
	ctx = logging.WithAccount(ctx, account.Name)
	log := logging.FromContext(ctx)
	log.Info().Msg("Processing account")

	tree, err := r.opts.Source.BuildHierarchy(ctx, account)
	if err != nil || tree == nil {
		log.Warn().Err(err).Msg("No hierarchy built, skipping account")
		return
	}

	var found []string
	if r.engine != nil && !r.aborted {
		r.stage = "assets"
		found = r.syncDatabases(ctx, tree)
	}

	target := TargetDomain(found)
	log.Info().Str("domain", target).Int("matches", len(found)).Msg("Assigned account to domain")
	r.builder.Add(target, tree)
}

// syncDatabases writes the account summary to every catalog asset under
// the account's databases and returns the domains those assets carry.
func (r *run) syncDatabases(ctx context.Context, tree *scanner.Node) []string {
	log := logging.FromContext(ctx)
	assets := r.engine.Assets()
	summary := tree.Summary()

	var found []string
	for _, db := range tree.Databases() {
		refs := assets.Lookup(db.Name)
		if len(refs) == 0 {
			log.Debug().Str("database", db.Name).Msg("No catalog match for database")
			continue
		}

		domains := assets.DomainsFor(db.Name)
		found = append(found, domains...)
		if len(domains) > 0 {
			log.Info().Str("database", db.Name).Strs("domains", domains).Msg("Resolved catalog domains")
		}

		var synced atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		for _, ref := range refs {
			if r.engine.ShouldAbort() || gctx.Err() != nil {
				break
			}
			g.Go(func() (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = &workerPanic{value: p, stack: debug.Stack()}
					}
				}()
				if r.engine.UpdateAsset(logging.WithAsset(gctx, ref.GUID), ref, summary) {
					synced.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			var wp *workerPanic
			if errors.As(err, &wp) {
				// Re-raised on the run goroutine so Run reports it.
				panic(wp)
			}
		}

		if n := synced.Load(); n > 0 {
			log.Info().Str("database", db.Name).Int64("assets", n).Msg("Synced database assets")
		}
		if r.engine.ShouldAbort() {
			log.Error().Msg("Catalog sync aborted, see error above")
			r.aborted = true
			break
		}
	}
	return found
}

// workerPanic carries a panic out of an asset worker together with the
// worker's stack.
type workerPanic struct {
	value any
	stack []byte
}

func (p *workerPanic) Error() string {
	return fmt.Sprintf("asset worker panic: %v", p.value)
}

func (r *run) syncDomains(ctx context.Context, domains []report.Domain) {
	for i := range domains {
		d := &domains[i]
		if d.Name == constants.UnassignedDomain {
			continue
		}
		if r.engine.ShouldAbort() {
			r.aborted = true
			return
		}
		d.Synced = r.engine.UpdateDomain(logging.WithDomain(ctx, d.Name), d.Name, d.Rollup)
	}
}

func (r *run) finish(ctx context.Context, rep *report.Report) *report.Report {
	if rep.Domains == nil {
		rep.Domains = r.builder.Build()
	}
	rep.Aborted = r.aborted
	if r.engine != nil {
		r.engine.Complete()
	}

	t := rep.Summary()
	logging.FromContext(ctx).Info().
		Int("accounts", t.Accounts).
		Int("risks", t.Risks).
		Int("high", t.High).
		Int("domains", t.Domains).
		Bool("aborted", rep.Aborted).
		Msg("Governance process complete")
	return rep
}

// TargetDomain returns the most frequent domain, breaking ties lexically,
// or the unassigned domain when there is none.
func TargetDomain(found []string) string {
	counts := make(map[string]int, len(found))
	for _, d := range found {
		counts[d]++
	}
	if len(counts) == 0 {
		return constants.UnassignedDomain
	}
	names := make([]string, 0, len(counts))
	for d := range counts {
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0]
}
