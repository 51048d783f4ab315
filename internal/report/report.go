// Package report groups scanned accounts by catalog domain and renders the
// run summary.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/risk"
	"github.com/agentstation/riskmap/pkg/scanner"
)

// Report is the outcome of one sync run.
type Report struct {
	RunID          string    `json:"run_id" yaml:"run_id"`
	GeneratedAt    time.Time `json:"generated_at" yaml:"generated_at"`
	CatalogEnabled bool      `json:"catalog_enabled" yaml:"catalog_enabled"`
	Aborted        bool      `json:"aborted" yaml:"aborted"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
	Domains        []Domain  `json:"domains" yaml:"domains"`
}

// Domain is the accounts assigned to one catalog domain with their rollup.
type Domain struct {
	Name     string          `json:"name" yaml:"name"`
	Type     string          `json:"type" yaml:"type"`
	Rollup   risk.Summary    `json:"rollup" yaml:"rollup"`
	Synced   bool            `json:"synced" yaml:"synced"`
	Accounts []*scanner.Node `json:"children" yaml:"children"`
}

// Totals are the run-wide counts.
type Totals struct {
	Accounts int `json:"accounts" yaml:"accounts"`
	Domains  int `json:"domains" yaml:"domains"`
	Risks    int `json:"risks" yaml:"risks"`
	High     int `json:"high" yaml:"high"`
}

// Summary returns the run-wide counts.
func (r *Report) Summary() Totals {
	t := Totals{Domains: len(r.Domains)}
	for _, d := range r.Domains {
		t.Accounts += len(d.Accounts)
		t.Risks += d.Rollup.Total
		t.High += d.Rollup.High
	}
	return t
}

// Domain returns the named domain.
func (r *Report) Domain(name string) (*Domain, bool) {
	for i := range r.Domains {
		if r.Domains[i].Name == name {
			return &r.Domains[i], true
		}
	}
	return nil, false
}

// Builder collects account trees per domain. It is safe for concurrent use.
type Builder struct {
	mu     sync.Mutex
	groups map[string][]*scanner.Node
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{groups: make(map[string][]*scanner.Node)}
}

// Add assigns an account tree to a domain. An empty domain is unassigned.
func (b *Builder) Add(domain string, tree *scanner.Node) {
	if tree == nil {
		return
	}
	if domain == "" {
		domain = constants.UnassignedDomain
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups[domain] = append(b.groups[domain], tree)
}

// Build returns the domains in lexical order with the unassigned domain
// last, each with the merged summary of its accounts.
func (b *Builder) Build() []Domain {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.groups))
	for name := range b.groups {
		names = append(names, name)
	}
	SortDomains(names)

	domains := make([]Domain, 0, len(names))
	for _, name := range names {
		accounts := b.groups[name]
		summaries := make([]risk.Summary, len(accounts))
		for i, acct := range accounts {
			summaries[i] = acct.Summary()
		}
		domains = append(domains, Domain{
			Name:     name,
			Type:     "DOMAIN",
			Rollup:   risk.Merge(summaries...),
			Accounts: accounts,
		})
	}
	return domains
}

// SortDomains sorts names lexically with the unassigned domain last.
func SortDomains(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ui, uj := names[i] == constants.UnassignedDomain, names[j] == constants.UnassignedDomain
		if ui != uj {
			return uj
		}
		return names[i] < names[j]
	})
}
