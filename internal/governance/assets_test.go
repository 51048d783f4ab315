package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

func seedAssets(api *fakeCatalog) {
	api.addEntity(catalog.Entity{GUID: "d-fin", TypeName: catalog.TypeDataDomain, Attributes: map[string]any{"name": "Finance", "qualifiedName": "qn/fin"}})
	api.addEntity(catalog.Entity{GUID: "d-ops", TypeName: catalog.TypeDataDomain, Attributes: map[string]any{"name": "Ops", "qualifiedName": "qn/ops"}})

	api.addEntity(catalog.Entity{GUID: "db1", TypeName: "Database", Attributes: map[string]any{
		"name": "sales", "qualifiedName": "c/sales", "domainGUIDs": []any{"d-fin"},
	}})
	api.addEntity(catalog.Entity{GUID: "t1", TypeName: "Table", Attributes: map[string]any{
		"name": "ORDERS", "databaseName": "Sales", "qualifiedName": "c/sales/public/orders", "domainGUIDs": []any{"d-ops", "d-fin"},
	}})
	api.addEntity(catalog.Entity{GUID: "t2", TypeName: "Table", Attributes: map[string]any{
		"name": "CUSTOMERS", "databaseName": "SALES", "qualifiedName": "c/sales/public/customers",
	}})
	api.addEntity(catalog.Entity{GUID: "v1", TypeName: "View", Attributes: map[string]any{
		"name": "V", "databaseName": "HR", "domainGUIDs": "d-ops",
	}})
	api.addEntity(catalog.Entity{GUID: "", TypeName: "Table", Attributes: map[string]any{"name": "NO_GUID"}})
}

func TestBuildAssetIndex(t *testing.T) {
	api := newFakeCatalog()
	seedAssets(api)
	e := newTestEngine(t, api)

	index := e.BuildAssetIndex(context.Background())
	require.Len(t, index, 2)
	assert.Equal(t, 4, index.Len())
	assert.Equal(t, index, e.Assets())
	assert.Equal(t, 2, e.Domains().Len())

	sales := index.Lookup("sales")
	require.Len(t, sales, 3)
	byGUID := map[string]AssetRef{}
	for _, ref := range sales {
		byGUID[ref.GUID] = ref
	}
	assert.Equal(t, "Finance", byGUID["db1"].Domain)
	assert.Equal(t, "Finance", byGUID["t1"].Domain, "earliest indexed domain wins")
	assert.Equal(t, constants.UnassignedDomain, byGUID["t2"].Domain)
	assert.Equal(t, "c/sales/public/orders", byGUID["t1"].QualifiedName)
	assert.Equal(t, "Database", byGUID["db1"].TypeName)

	assert.Equal(t, []string{"Finance"}, index.DomainsFor("SALES"))
	assert.Equal(t, []string{"Ops"}, index.DomainsFor("hr"))
	assert.Empty(t, index.DomainsFor("missing"))
}
