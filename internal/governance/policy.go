package governance

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

const manualPolicySteps = "Admin > Governance > Personas > Default > Policies > Add metadata policy " +
	"named 'TrustLogix Governance - View', enable View, select custom metadata '" +
	constants.SchemaDisplayName + "', all assets"

// PolicyQualifiedName returns the deterministic policy name for a persona.
func PolicyQualifiedName(personaGUID, personaQN string) string {
	sum := md5.Sum([]byte(personaGUID))
	base := strings.TrimRight(personaQN, "/")
	if base == "" {
		base = "default"
	}
	return base + "/metadata/tlx-view-" + hex.EncodeToString(sum[:])[:8]
}

// EnsureMetadataPolicy grants a persona read access to the custom metadata
// unless a policy of ours is already linked to it. It reports whether a
// policy exists after the call.
func (e *Engine) EnsureMetadataPolicy(ctx context.Context) bool {
	if e.Schema() == nil {
		e.logger.Warn().Msg("Cannot provision metadata policy: custom metadata not resolved")
		return false
	}

	persona, ok := e.findPersona(ctx)
	if !ok {
		e.logger.Warn().Str("manual_fix", manualPolicySteps).Msg("No persona found for the metadata policy")
		return false
	}

	log := e.logger.With().Str("persona_guid", persona.GUID).Logger()
	if e.policyExists(ctx, persona.GUID) {
		log.Info().Msg("Metadata policy already present")
		return true
	}

	policy := catalog.Entity{
		TypeName: catalog.TypeAuthPolicy,
		Attributes: map[string]any{
			"name":              constants.PolicyName,
			"qualifiedName":     PolicyQualifiedName(persona.GUID, persona.Str("qualifiedName")),
			"policyType":        "allow",
			"policyCategory":    "persona",
			"policySubCategory": "metadata",
			"policyServiceName": "atlas",
			"policyActions":     []string{"persona-asset-read", "persona-business-update-metadata"},
			"policyResources":   e.connectionResources(ctx),
			"policyConditions":  []any{},
			"isPolicyEnabled":   true,
			"policyPriority":    0,
		},
		RelationshipAttributes: map[string]any{
			"accessControl": map[string]string{"typeName": catalog.TypePersona, "guid": persona.GUID},
		},
	}

	if !e.api.BulkUpsert(ctx, []catalog.Entity{policy}) {
		log.Warn().Str("manual_fix", manualPolicySteps).Msg("Could not create metadata policy")
		return false
	}
	log.Info().Str("policy", constants.PolicyName).Msg("Created metadata policy")
	return true
}

// findPersona prefers the persona named Default and falls back to the first.
func (e *Engine) findPersona(ctx context.Context) (catalog.Entity, bool) {
	resp, ok := e.api.Search(ctx, []string{catalog.TypePersona}, []string{"name", "qualifiedName"}, 0, constants.PersonaSearchSize)
	if !ok || len(resp.Entities) == 0 {
		return catalog.Entity{}, false
	}
	for _, p := range resp.Entities {
		if strings.EqualFold(p.Str("name"), "default") {
			return p, true
		}
	}
	e.logger.Debug().Str("persona", resp.Entities[0].Str("name")).Msg("No Default persona, using first")
	return resp.Entities[0], true
}

func (e *Engine) policyExists(ctx context.Context, personaGUID string) bool {
	ext, ok := e.api.Entity(ctx, personaGUID, true)
	if !ok {
		return false
	}
	for _, ref := range ext.ReferredEntities {
		name := strings.ToLower(ref.Str("name"))
		if strings.Contains(name, "trustlogix") || strings.Contains(name, "tlx-view") {
			return true
		}
	}
	return false
}

func (e *Engine) connectionResources(ctx context.Context) []string {
	var resources []string
	resp, ok := e.api.Search(ctx, []string{catalog.TypeConnection}, []string{"qualifiedName"}, 0, constants.ConnectionSearchSize)
	if ok {
		for _, conn := range resp.Entities {
			if qn := conn.Str("qualifiedName"); qn != "" {
				resources = append(resources, "entity:"+qn)
			}
		}
	}
	if len(resources) == 0 {
		e.logger.Debug().Msg("No connections found, using fallback policy resource")
		resources = []string{constants.FallbackPolicyResource}
	}
	return resources
}
