package governance

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/metrics"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/risk"
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)

// alarmKeywords select the red tag color.
var alarmKeywords = []string{"critical", "exfiltrat", "breach", "shadow", "high"}

// MakeTagID derives the tag identifier of a risk category. Names that
// differ only in case or punctuation share an identifier.
func MakeTagID(category string) string {
	safe := strings.Trim(nonAlphanumeric.ReplaceAllString(category, "_"), "_")
	return constants.TagPrefix + strings.ToUpper(safe)
}

// TagColor picks the classification color for a category.
func TagColor(category string) string {
	lower := strings.ToLower(category)
	for _, kw := range alarmKeywords {
		if strings.Contains(lower, kw) {
			return "Red"
		}
	}
	return "Orange"
}

// IsOwnedTag reports whether a classification was created by riskmap.
func IsOwnedTag(def catalog.ClassificationDef) bool {
	return strings.HasPrefix(def.Name, constants.TagPrefix) ||
		strings.HasPrefix(def.DisplayName, constants.TagDisplayWord) ||
		strings.HasPrefix(def.DisplayName, "TLX")
}

// TagRegistry is the set of classification names owned by riskmap.
// Only tags in the registry are ever removed from an asset.
type TagRegistry struct {
	mu    sync.RWMutex
	names map[string]struct{}
	ids   map[string]string
}

// NewTagRegistry returns an empty registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{names: make(map[string]struct{}), ids: make(map[string]string)}
}

// Register records name as owned, resolved from the tag id.
func (r *TagRegistry) Register(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = struct{}{}
	if id != "" {
		r.ids[id] = name
	}
}

// Has reports whether name is owned.
func (r *TagRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Resolve returns the classification name registered for a tag id.
func (r *TagRegistry) Resolve(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.ids[id]
	return name, ok
}

// Len returns the number of owned names.
func (r *TagRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns the owned names in lexical order.
func (r *TagRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// BuildRegistry scans all classification definitions and registers the
// ones riskmap owns.
func (e *Engine) BuildRegistry(ctx context.Context) *TagRegistry {
	reg := NewTagRegistry()
	defs, ok := e.api.ClassificationDefs(ctx)
	if !ok {
		e.logger.Warn().Msg("Could not list classifications; stale tags will not be removed this run")
	}
	for _, def := range defs {
		if !IsOwnedTag(def) {
			continue
		}
		id := ""
		if strings.HasPrefix(def.Name, constants.TagPrefix) {
			id = def.Name
		}
		reg.Register(id, def.Name)
	}
	e.logger.Info().Int("tags", reg.Len()).Msg("Built tag registry")

	e.mu.Lock()
	e.registry = reg
	e.mu.Unlock()
	return reg
}

// EnsureTag returns the classification name for a category, creating the
// classification when the catalog has none. The result is always registered.
func (e *Engine) EnsureTag(ctx context.Context, category string) string {
	id := MakeTagID(category)
	reg := e.Registry()
	if name, ok := reg.Resolve(id); ok {
		return name
	}

	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	if name, ok := reg.Resolve(id); ok {
		return name
	}

	if defs, ok := e.api.ClassificationDefs(ctx); ok {
		for _, def := range defs {
			if def.Name == id || def.DisplayName == category {
				reg.Register(id, def.Name)
				return def.Name
			}
		}
	}

	color := TagColor(category)
	payload := catalog.TypeDefs{ClassificationDefs: []catalog.ClassificationDef{{
		Category:    catalog.CategoryClassification,
		Name:        id,
		DisplayName: category,
		Description: "TrustLogix risk category: " + category,
		Options:     map[string]string{"color": color},
	}}}
	if created, ok := e.api.CreateTypeDefs(ctx, payload); ok && len(created.ClassificationDefs) > 0 {
		name := created.ClassificationDefs[0].Name
		if name == "" {
			name = id
		}
		reg.Register(id, name)
		e.logger.Info().Str("tag", name).Str("category", category).Str("color", color).Msg("Created tag")
		return name
	}

	reg.Register(id, id)
	return id
}

// RollupTag returns the single summary tag for s.
func (e *Engine) RollupTag(ctx context.Context, s risk.Summary) string {
	return e.EnsureTag(ctx, rollupCategory(s.Rollup()))
}

func rollupCategory(level risk.Level) string {
	switch level {
	case risk.LevelHighRisk:
		return constants.RollupHighRisk
	case risk.LevelRisks:
		return constants.RollupRisks
	default:
		return constants.RollupVerified
	}
}

// DesiredTags returns the rollup tag plus one tag per category with a
// positive count, sorted.
func (e *Engine) DesiredTags(ctx context.Context, s risk.Summary) []string {
	set := map[string]struct{}{e.RollupTag(ctx, s): {}}
	if s.Total > 0 {
		for _, cat := range s.ActiveCategories() {
			set[e.EnsureTag(ctx, cat)] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// TagDiff is the change applied to an asset's owned tags.
type TagDiff struct {
	Added   []string
	Removed []string
}

// Empty reports whether nothing changed.
func (d TagDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// SyncAssetTags makes the asset's owned tags equal desired. Tags outside
// the registry are never removed. Stale tags are removed one call each and
// missing tags are added in one call with propagation. A repeat call with
// the same desired set makes no remote calls.
func (e *Engine) SyncAssetTags(ctx context.Context, guid string, desired []string) TagDiff {
	want := make(map[string]struct{}, len(desired))
	for _, t := range desired {
		want[t] = struct{}{}
	}
	if prev, ok := e.applied.Get(guid); ok && equalSets(prev.(map[string]struct{}), want) {
		return TagDiff{}
	}

	reg := e.Registry()
	current := make(map[string]struct{})
	// An unread tag set may hide stale tags, so it is never cached as applied.
	complete := true
	if ext, ok := e.api.Entity(ctx, guid, false); ok {
		for _, c := range ext.Entity.Classifications {
			if reg.Has(c.TypeName) {
				current[c.TypeName] = struct{}{}
			}
		}
	} else {
		complete = false
		e.logger.Debug().Str("asset_guid", guid).Msg("Could not read classifications")
	}

	var diff TagDiff
	for _, name := range sortedKeys(current) {
		if _, keep := want[name]; keep {
			continue
		}
		if e.api.RemoveClassification(ctx, guid, name) {
			diff.Removed = append(diff.Removed, name)
		} else {
			complete = false
		}
	}

	var toAdd []catalog.Classification
	for _, name := range sortedKeys(want) {
		if _, has := current[name]; !has {
			toAdd = append(toAdd, catalog.Classification{TypeName: name, Propagate: true})
		}
	}
	if len(toAdd) > 0 {
		if e.api.AddClassifications(ctx, guid, toAdd) {
			for _, c := range toAdd {
				diff.Added = append(diff.Added, c.TypeName)
			}
		} else {
			complete = false
			e.logger.Debug().Str("asset_guid", guid).Msg("Tag add not applied")
		}
	}

	if complete {
		e.applied.Set(guid, want, gocache.NoExpiration)
	}
	metrics.RecordTagChanges(len(diff.Added), len(diff.Removed))
	if diff.Empty() {
		e.logger.Debug().Str("asset_guid", guid).Msg("Tags unchanged")
	}
	return diff
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
