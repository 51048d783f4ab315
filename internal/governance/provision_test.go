package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

func TestBadgeConditionOrder(t *testing.T) {
	require.Len(t, Badges, 3)
	assert.Equal(t, "Scan Status", Badges[0].Name)
	assert.Equal(t, "High Severity", Badges[1].Name)
	assert.Equal(t, "Total Risks", Badges[2].Name)

	total := Badges[2].Conditions
	require.Len(t, total, 3)
	assert.Equal(t, BadgeCondition{"eq", "0", colorGreen}, total[0])
	assert.Equal(t, BadgeCondition{"gte", "1", colorAmber}, total[1])
	assert.Equal(t, BadgeCondition{"gte", "5", colorRed}, total[2])

	assert.Equal(t, `"`+constants.VerifiedStatus+`"`, Badges[0].Conditions[0].Value)
}

func TestEnsureBadges(t *testing.T) {
	api := newFakeCatalog()
	api.addEntity(catalog.Entity{GUID: "b-existing", TypeName: catalog.TypeBadge, Attributes: map[string]any{
		"qualifiedName": BadgeQualifiedName("h_bm", "h_high_severity"),
	}})
	e := readyEngine(t, api)

	assert.Equal(t, 3, e.EnsureBadges(context.Background()))
	require.Len(t, api.upserts, 3)

	scan := api.upserts[0]
	assert.Equal(t, "badges/global/h_bm.h_scan_status", scan.Attributes["qualifiedName"])
	assert.Equal(t, "h_bm.h_scan_status", scan.Attributes["badgeMetadataAttribute"])
	assert.Empty(t, scan.GUID)
	assert.Contains(t, scan.Attributes, "userDescription")

	high := api.upserts[1]
	assert.Equal(t, "b-existing", high.GUID)
	assert.NotContains(t, high.Attributes, "userDescription")

	conditions := api.upserts[2].Attributes["badgeConditions"].([]map[string]string)
	require.Len(t, conditions, 3)
	assert.Equal(t, "5", conditions[2]["badgeConditionValue"])
	assert.Equal(t, colorRed, conditions[2]["badgeConditionColorhex"])
}

func TestEnsureBadgesSkipsUnresolvedAttributes(t *testing.T) {
	api := newFakeCatalog()
	e := newTestEngine(t, api)
	def := resolvedDef()
	def.AttributeDefs = def.AttributeDefs[:2]
	e.setSchema(resolveSchema(def))

	assert.Equal(t, 2, e.EnsureBadges(context.Background()))
}

func TestPolicyQualifiedName(t *testing.T) {
	name := PolicyQualifiedName("persona-1", "default/persona/abc/")
	assert.Regexp(t, `^default/persona/abc/metadata/tlx-view-[0-9a-f]{8}$`, name)
	assert.Equal(t, name, PolicyQualifiedName("persona-1", "default/persona/abc"))
	assert.NotEqual(t, name, PolicyQualifiedName("persona-2", "default/persona/abc"))
	assert.Regexp(t, `^default/metadata/tlx-view-`, PolicyQualifiedName("p", ""))
}

func TestEnsureMetadataPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers Default persona and uses connections", func(t *testing.T) {
		api := newFakeCatalog()
		api.addEntity(catalog.Entity{GUID: "p-other", TypeName: catalog.TypePersona, Attributes: map[string]any{"name": "Analysts"}})
		api.addEntity(catalog.Entity{GUID: "p-default", TypeName: catalog.TypePersona, Attributes: map[string]any{"name": "default", "qualifiedName": "default/p"}})
		api.addEntity(catalog.Entity{GUID: "c1", TypeName: catalog.TypeConnection, Attributes: map[string]any{"qualifiedName": "default/snowflake/1"}})
		e := readyEngine(t, api)

		require.True(t, e.EnsureMetadataPolicy(ctx))
		require.Len(t, api.upserts, 1)
		policy := api.upserts[0]
		assert.Equal(t, catalog.TypeAuthPolicy, policy.TypeName)
		assert.Equal(t, constants.PolicyName, policy.Attributes["name"])
		assert.Equal(t, []string{"entity:default/snowflake/1"}, policy.Attributes["policyResources"])
		ref := policy.RelationshipAttributes["accessControl"].(map[string]string)
		assert.Equal(t, "p-default", ref["guid"])
	})

	t.Run("falls back to fixed resource", func(t *testing.T) {
		api := newFakeCatalog()
		api.addEntity(catalog.Entity{GUID: "p1", TypeName: catalog.TypePersona, Attributes: map[string]any{"name": "Analysts"}})
		e := readyEngine(t, api)

		require.True(t, e.EnsureMetadataPolicy(ctx))
		assert.Equal(t, []string{constants.FallbackPolicyResource}, api.upserts[0].Attributes["policyResources"])
	})

	t.Run("skips when policy already linked", func(t *testing.T) {
		api := newFakeCatalog()
		api.addEntity(catalog.Entity{GUID: "p1", TypeName: catalog.TypePersona, Attributes: map[string]any{"name": "Default"}})
		api.referred["p1"] = map[string]catalog.Entity{
			"pol": {TypeName: catalog.TypeAuthPolicy, Attributes: map[string]any{"name": "TrustLogix Governance - View Custom Metadata"}},
		}
		e := readyEngine(t, api)

		require.True(t, e.EnsureMetadataPolicy(ctx))
		assert.Empty(t, api.upserts)
	})

	t.Run("no persona", func(t *testing.T) {
		api := newFakeCatalog()
		e := readyEngine(t, api)
		assert.False(t, e.EnsureMetadataPolicy(ctx))
	})
}
