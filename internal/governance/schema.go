package governance

import (
	"context"
	"strings"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

// AttributeDefinition is one custom attribute the schema must carry.
type AttributeDefinition struct {
	Key         string
	DisplayName string
	TypeName    string
	Options     map[string]string
}

// Attribute keys.
const (
	AttrTotalRisks     = "total_risks"
	AttrHighSeverity   = "high_severity"
	AttrMediumSeverity = "medium_severity"
	AttrLowSeverity    = "low_severity"
	AttrRiskCategories = "risk_categories"
	AttrLastScanned    = "last_scanned"
	AttrScanStatus     = "scan_status"
	AttrRiskDetails    = "risk_details"
)

// Attributes is the authoritative attribute table, in write order.
var Attributes = []AttributeDefinition{
	{AttrTotalRisks, "Total Risks", "int", map[string]string{"showInOverview": "true"}},
	{AttrHighSeverity, "High Severity", "int", map[string]string{"showInOverview": "true"}},
	{AttrMediumSeverity, "Medium Severity", "int", nil},
	{AttrLowSeverity, "Low Severity", "int", nil},
	{AttrRiskCategories, "Risk Categories", "string", nil},
	{AttrLastScanned, "Last Scanned", "string", map[string]string{"showInOverview": "true"}},
	{AttrScanStatus, "Scan Status", "string", map[string]string{"showInOverview": "true"}},
	{AttrRiskDetails, "Risk Details", "string", map[string]string{"customType": "textarea"}},
}

// overviewAttributes are pinned to the asset overview tab.
var overviewAttributes = map[string]bool{
	"Total Risks":   true,
	"High Severity": true,
	"Last Scanned":  true,
	"Scan Status":   true,
}

// ApplicableEntityTypes is the JSON-encoded entity type list every attribute applies to.
const ApplicableEntityTypes = `["Table","View","MaterialisedView","Database","Schema","Column","DataDomain"]`

const maxStrLength = "100000000"

// SchemaState is the resolved custom attribute group.
type SchemaState struct {
	// InternalName is the catalog-assigned name of the definition.
	InternalName string

	attrs map[string]string
}

// Attribute returns the internal name of the attribute with key.
func (s *SchemaState) Attribute(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	name, ok := s.attrs[key]
	return name, ok
}

// Resolved returns the number of resolved attributes.
func (s *SchemaState) Resolved() int {
	if s == nil {
		return 0
	}
	return len(s.attrs)
}

// Missing returns the keys that did not resolve, in table order.
func (s *SchemaState) Missing() []string {
	var missing []string
	for _, a := range Attributes {
		if _, ok := s.Attribute(a.Key); !ok {
			missing = append(missing, a.Key)
		}
	}
	return missing
}

// EnsureSchema finds or creates the custom attribute group and resolves
// its attribute names. It returns nil when no definition could be resolved.
func (e *Engine) EnsureSchema(ctx context.Context, imageID string) *SchemaState {
	existing := e.findSchema(ctx)
	if existing != nil {
		e.logger.Info().Str("name", existing.Name).Msg("Found existing custom metadata definition")

		if hasEntityTypes(*existing) {
			state := resolveSchema(*existing)
			if missing := state.Missing(); len(missing) > 0 {
				e.logger.Info().Strs("missing", missing).Msg("Adding missing custom metadata attributes")
				e.addMissingAttributes(ctx, *existing, missing)
				e.pause(ctx)
				if refreshed := e.findSchema(ctx); refreshed != nil {
					existing = refreshed
					state = resolveSchema(*refreshed)
				}
			}

			def := e.ensureEntityTypesInclude(ctx, *existing)
			e.updateSchemaOptions(ctx, def, imageID)

			e.logger.Info().
				Int("resolved", state.Resolved()).
				Int("required", len(Attributes)).
				Msg("Custom metadata ready")
			e.setSchema(state)
			return state
		}

		e.logger.Warn().Str("name", existing.Name).Msg("Custom metadata definition lacks applicable entity types, recreating")
		if e.api.DeleteTypeDef(ctx, existing.Name) {
			e.pause(ctx)
		} else {
			e.logger.Error().Str("name", existing.Name).Msg("Could not delete custom metadata definition")
		}
	}

	return e.createSchema(ctx, imageID)
}

func (e *Engine) findSchema(ctx context.Context) *catalog.BusinessMetadataDef {
	defs, ok := e.api.BusinessMetadataDefs(ctx)
	if !ok {
		return nil
	}
	for i := range defs {
		if defs[i].DisplayName == constants.SchemaDisplayName {
			return &defs[i]
		}
	}
	return nil
}

func (e *Engine) createSchema(ctx context.Context, imageID string) *SchemaState {
	attrs := make([]catalog.AttributeDef, 0, len(Attributes))
	for _, a := range Attributes {
		def := newAttributeDef(a)
		def.Cardinality = ""
		def.ValuesMinCount = nil
		def.ValuesMaxCount = nil
		attrs = append(attrs, def)
	}

	payload := catalog.TypeDefs{BusinessMetadataDefs: []catalog.BusinessMetadataDef{{
		Category:      catalog.CategoryBusinessMetadata,
		Name:          constants.SchemaDisplayName,
		DisplayName:   constants.SchemaDisplayName,
		Description:   constants.SchemaDescription,
		Options:       logoOptions(imageID),
		AttributeDefs: attrs,
	}}}

	e.logger.Info().Int("attributes", len(attrs)).Msg("Creating custom metadata definition")
	if _, ok := e.api.CreateTypeDefs(ctx, payload); ok {
		e.logger.Info().Msg("Created custom metadata definition")
	} else {
		e.logger.Warn().Msg("Custom metadata creation was not accepted, checking whether it exists")
	}

	e.pause(ctx)
	found := e.findSchema(ctx)
	if found == nil {
		e.logger.Error().Msg("Could not find custom metadata definition after creation")
		e.setSchema(nil)
		return nil
	}
	state := resolveSchema(*found)
	e.logger.Info().
		Str("name", state.InternalName).
		Int("attributes", len(found.AttributeDefs)).
		Msg("Verified custom metadata definition")
	e.setSchema(state)
	return state
}

func (e *Engine) addMissingAttributes(ctx context.Context, def catalog.BusinessMetadataDef, missing []string) {
	byKey := make(map[string]AttributeDefinition, len(Attributes))
	for _, a := range Attributes {
		byKey[a.Key] = a
	}

	all := append([]catalog.AttributeDef(nil), def.AttributeDefs...)
	var manual []string
	for _, key := range missing {
		a, ok := byKey[key]
		if !ok {
			continue
		}
		all = append(all, newAttributeDef(a))
		manual = append(manual, "'"+a.DisplayName+"' ("+a.TypeName+")")
	}
	if len(all) == len(def.AttributeDefs) {
		return
	}

	def.Category = categoryOr(def.Category)
	def.Options = nil
	def.AttributeDefs = all
	if _, ok := e.api.UpdateTypeDefs(ctx, catalog.TypeDefs{BusinessMetadataDefs: []catalog.BusinessMetadataDef{def}}); ok {
		e.logger.Info().Int("added", len(missing)).Int("total", len(all)).Msg("Added missing custom metadata attributes")
		return
	}
	e.logger.Error().
		Str("manual_fix", "Admin > Custom Metadata > "+constants.SchemaDisplayName+" > add properties: "+strings.Join(manual, ", ")).
		Msg("Could not add missing custom metadata attributes")
}

// ensureEntityTypesInclude widens every attribute's applicable entity types
// when any attribute lacks DataDomain. It returns the definition as it
// should now look in the catalog.
func (e *Engine) ensureEntityTypesInclude(ctx context.Context, def catalog.BusinessMetadataDef) catalog.BusinessMetadataDef {
	needsUpdate := false
	for _, a := range def.AttributeDefs {
		if !strings.Contains(a.Option("applicableEntityTypes"), catalog.TypeDataDomain) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return def
	}

	widened := def
	widened.Category = categoryOr(def.Category)
	widened.Options = nil
	widened.AttributeDefs = make([]catalog.AttributeDef, len(def.AttributeDefs))
	for i, a := range def.AttributeDefs {
		widened.AttributeDefs[i] = a.WithOption("applicableEntityTypes", ApplicableEntityTypes)
	}

	e.logger.Info().Msg("Adding DataDomain to custom metadata entity types")
	if _, ok := e.api.UpdateTypeDefs(ctx, catalog.TypeDefs{BusinessMetadataDefs: []catalog.BusinessMetadataDef{widened}}); !ok {
		e.logger.Warn().Msg("Could not add DataDomain to custom metadata entity types")
		return def
	}
	widened.Options = def.Options
	return widened
}

// updateSchemaOptions sets the logo and the overview flags. Nothing is
// sent when both are already as desired.
func (e *Engine) updateSchemaOptions(ctx context.Context, def catalog.BusinessMetadataDef, imageID string) {
	desiredLogo := imageID
	if desiredLogo == "" {
		desiredLogo = constants.LogoURL
	}
	currentLogo := def.Options["imageId"]
	if currentLogo == "" {
		currentLogo = def.Options["logoUrl"]
	}
	logoChanged := currentLogo != desiredLogo

	attrsChanged := false
	attrs := make([]catalog.AttributeDef, len(def.AttributeDefs))
	for i, a := range def.AttributeDefs {
		if overviewAttributes[a.DisplayName] && a.Option("showInOverview") != "true" {
			a = a.WithOption("showInOverview", "true")
			attrsChanged = true
		}
		attrs[i] = a
	}

	if !logoChanged && !attrsChanged {
		e.logger.Debug().Msg("Custom metadata logo and overview flags already up to date")
		return
	}

	opts := make(map[string]string, len(def.Options)+2)
	for k, v := range def.Options {
		opts[k] = v
	}
	for k, v := range logoOptions(imageID) {
		opts[k] = v
	}

	update := def
	update.Category = categoryOr(def.Category)
	update.Options = opts
	update.AttributeDefs = attrs

	if _, ok := e.api.UpdateTypeDefs(ctx, catalog.TypeDefs{BusinessMetadataDefs: []catalog.BusinessMetadataDef{update}}); ok {
		var changes []string
		if logoChanged {
			changes = append(changes, "logo")
		}
		if attrsChanged {
			changes = append(changes, "overview visibility")
		}
		e.logger.Info().Strs("changes", changes).Msg("Updated custom metadata definition")
		return
	}
	e.logger.Warn().
		Str("manual_fix", "Admin > Governance > Custom Metadata > "+constants.SchemaDisplayName+" > edit each attribute > enable 'Show in overview'").
		Msg("Could not update custom metadata options")
}

func resolveSchema(def catalog.BusinessMetadataDef) *SchemaState {
	return &SchemaState{InternalName: def.Name, attrs: ResolveAttributes(def)}
}

func hasEntityTypes(def catalog.BusinessMetadataDef) bool {
	if len(def.AttributeDefs) == 0 {
		return false
	}
	for _, a := range def.AttributeDefs {
		if a.Option("applicableEntityTypes") == "" {
			return false
		}
	}
	return true
}

func newAttributeDef(a AttributeDefinition) catalog.AttributeDef {
	opts := map[string]string{
		"applicableEntityTypes": ApplicableEntityTypes,
		"maxStrLength":          maxStrLength,
	}
	for k, v := range a.Options {
		opts[k] = v
	}
	minCount, maxCount := 0, 1
	return catalog.AttributeDef{
		Name:           a.Key,
		DisplayName:    a.DisplayName,
		TypeName:       a.TypeName,
		IsOptional:     true,
		Cardinality:    "SINGLE",
		ValuesMinCount: &minCount,
		ValuesMaxCount: &maxCount,
		Options:        opts,
	}
}

func logoOptions(imageID string) map[string]string {
	if imageID != "" {
		return map[string]string{"logoType": "image", "imageId": imageID}
	}
	return map[string]string{"logoType": "image", "logoUrl": constants.LogoURL}
}

func categoryOr(c string) string {
	if c == "" {
		return catalog.CategoryBusinessMetadata
	}
	return c
}
