package governance

import (
	"context"
	"sync"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

// ResolveAttributes maps attribute keys to the internal names of a live
// definition by exact display name. Archived attributes are ignored and
// unmatched keys are absent from the result.
func ResolveAttributes(def catalog.BusinessMetadataDef) map[string]string {
	byDisplay := make(map[string]string, len(def.AttributeDefs))
	for _, a := range def.AttributeDefs {
		if a.DisplayName == "" || a.Name == "" || a.Archived() {
			continue
		}
		byDisplay[a.DisplayName] = a.Name
	}

	resolved := make(map[string]string, len(Attributes))
	for _, a := range Attributes {
		if name, ok := byDisplay[a.DisplayName]; ok {
			resolved[a.Key] = name
		}
	}
	return resolved
}

// DomainInfo identifies a domain entity.
type DomainInfo struct {
	GUID          string
	Name          string
	QualifiedName string
}

// DomainIndex maps domain GUIDs to names. Insertion order is kept and
// breaks ties deterministically.
type DomainIndex struct {
	mu     sync.RWMutex
	order  []string
	byGUID map[string]int
	infos  []DomainInfo
}

// NewDomainIndex returns an empty index.
func NewDomainIndex() *DomainIndex {
	return &DomainIndex{byGUID: make(map[string]int)}
}

// Add indexes a domain. Entries without a GUID or name are ignored and a
// repeated GUID keeps its first position.
func (d *DomainIndex) Add(info DomainInfo) {
	if info.GUID == "" || info.Name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.byGUID[info.GUID]; ok {
		d.infos[i] = info
		return
	}
	d.byGUID[info.GUID] = len(d.infos)
	d.order = append(d.order, info.GUID)
	d.infos = append(d.infos, info)
}

// Len returns the number of indexed domains.
func (d *DomainIndex) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.infos)
}

// Lookup returns the domain with guid.
func (d *DomainIndex) Lookup(guid string) (DomainInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byGUID[guid]
	if !ok {
		return DomainInfo{}, false
	}
	return d.infos[i], true
}

// ResolveDomain returns the name of the attached domain that comes first
// in the index, or the unassigned sentinel when none of guids is indexed.
func (d *DomainIndex) ResolveDomain(guids []string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	best := -1
	for _, g := range guids {
		if i, ok := d.byGUID[g]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return constants.UnassignedDomain
	}
	return d.infos[best].Name
}

// ByName returns the first indexed domain with exactly name.
func (d *DomainIndex) ByName(name string) (DomainInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, info := range d.infos {
		if info.Name == name {
			return info, true
		}
	}
	return DomainInfo{}, false
}

// BuildDomainIndex indexes every domain entity in the catalog.
func (e *Engine) BuildDomainIndex(ctx context.Context) *DomainIndex {
	idx := NewDomainIndex()
	entities, ok := e.api.SearchAll(ctx, []string{catalog.TypeDataDomain}, []string{"name", "qualifiedName"}, constants.SearchPageSize)
	if !ok {
		e.logger.Warn().Msg("Could not list domains; every asset will be unassigned")
	}
	for _, ent := range entities {
		idx.Add(DomainInfo{GUID: ent.GUID, Name: ent.Str("name"), QualifiedName: ent.Str("qualifiedName")})
	}
	e.logger.Info().Int("domains", idx.Len()).Msg("Built domain index")

	e.mu.Lock()
	e.domains = idx
	e.mu.Unlock()
	return idx
}
