package governance

import (
	"context"
	"sort"
	"strings"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

var assetAttributes = []string{
	"name", "databaseName", "schemaName", "qualifiedName",
	"connectionName", "domainGUIDs", "productGUIDs",
}

// AssetIndex maps upper-case database names to the catalog assets under them.
type AssetIndex map[string][]AssetRef

// Lookup returns the assets for a database name in any case.
func (a AssetIndex) Lookup(database string) []AssetRef {
	return a[strings.ToUpper(database)]
}

// DomainsFor returns the distinct assigned domains of a database, sorted.
func (a AssetIndex) DomainsFor(database string) []string {
	seen := make(map[string]struct{})
	for _, ref := range a.Lookup(database) {
		if ref.Domain == "" || ref.Domain == constants.UnassignedDomain {
			continue
		}
		seen[ref.Domain] = struct{}{}
	}
	return sortedKeys(seen)
}

// Len returns the number of indexed assets.
func (a AssetIndex) Len() int {
	n := 0
	for _, refs := range a {
		n += len(refs)
	}
	return n
}

// BuildAssetIndex rebuilds the domain index and then indexes every
// table-like asset by database.
func (e *Engine) BuildAssetIndex(ctx context.Context) AssetIndex {
	domains := e.BuildDomainIndex(ctx)

	entities, ok := e.api.SearchAll(ctx, catalog.AssetTypes, assetAttributes, constants.SearchPageSize)
	if !ok {
		e.logger.Warn().Msg("Could not list catalog assets")
	}

	index := AssetIndex{}
	distribution := map[string]int{}
	for _, ent := range entities {
		db := ent.Str("databaseName")
		if db == "" {
			db = ent.Str("name")
		}
		db = strings.ToUpper(db)
		if db == "" || ent.GUID == "" {
			continue
		}
		typeName := ent.TypeName
		if typeName == "" {
			typeName = catalog.TypeTable
		}
		ref := AssetRef{
			GUID:          ent.GUID,
			TypeName:      typeName,
			Name:          ent.Str("name"),
			QualifiedName: ent.Str("qualifiedName"),
			Connection:    ent.Str("connectionName"),
			Domain:        domains.ResolveDomain(ent.Strings("domainGUIDs")),
		}
		index[db] = append(index[db], ref)
		distribution[ref.Domain]++
	}

	dist := e.logger.Info().Int("databases", len(index)).Int("assets", index.Len())
	names := make([]string, 0, len(distribution))
	for d := range distribution {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		dist = dist.Int("domain."+d, distribution[d])
	}
	dist.Msg("Indexed catalog assets")

	e.mu.Lock()
	e.assets = index
	e.mu.Unlock()
	return index
}
