package governance

import (
	"context"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/pkg/constants"
)

// BadgeCondition is one rule of a badge. The catalog evaluates conditions
// top-down and the first match wins.
type BadgeCondition struct {
	Operator string
	Value    string
	Color    string
}

// BadgeDefinition binds a badge to a custom attribute.
type BadgeDefinition struct {
	Name         string
	AttributeKey string
	Description  string
	Conditions   []BadgeCondition
}

const (
	colorGreen = "#047960"
	colorAmber = "#F7B43D"
	colorRed   = "#BF1B1B"
)

// Badges are provisioned in this order.
var Badges = []BadgeDefinition{
	{
		Name:         "Scan Status",
		AttributeKey: AttrScanStatus,
		Description:  "TrustLogix data access governance scan status",
		Conditions: []BadgeCondition{
			{"eq", `"` + constants.VerifiedStatus + `"`, colorGreen},
			{"neq", `"` + constants.VerifiedStatus + `"`, colorRed},
		},
	},
	{
		Name:         "High Severity",
		AttributeKey: AttrHighSeverity,
		Description:  "Count of high severity risks from TrustLogix",
		Conditions: []BadgeCondition{
			{"eq", "0", colorGreen},
			{"gte", "1", colorRed},
		},
	},
	{
		Name:         "Total Risks",
		AttributeKey: AttrTotalRisks,
		Description:  "Total risk count from TrustLogix scan",
		Conditions: []BadgeCondition{
			{"eq", "0", colorGreen},
			{"gte", "1", colorAmber},
			{"gte", "5", colorRed},
		},
	},
}

// BadgeQualifiedName returns the qualified name of the badge bound to
// the given attribute of a definition.
func BadgeQualifiedName(internalName, attrName string) string {
	return "badges/global/" + internalName + "." + attrName
}

// EnsureBadges creates or updates every badge whose attribute resolved and
// returns the number written.
func (e *Engine) EnsureBadges(ctx context.Context) int {
	schema := e.Schema()
	if schema == nil {
		e.logger.Warn().Msg("Cannot provision badges: custom metadata not resolved")
		return 0
	}

	existing := e.findBadges(ctx)
	written := 0
	for _, badge := range Badges {
		attr, ok := schema.Attribute(badge.AttributeKey)
		if !ok {
			continue
		}
		full := schema.InternalName + "." + attr
		qn := BadgeQualifiedName(schema.InternalName, attr)

		conditions := make([]map[string]string, 0, len(badge.Conditions))
		for _, c := range badge.Conditions {
			conditions = append(conditions, map[string]string{
				"badgeConditionOperator": c.Operator,
				"badgeConditionValue":    c.Value,
				"badgeConditionColorhex": c.Color,
			})
		}

		entity := catalog.Entity{
			TypeName: catalog.TypeBadge,
			Attributes: map[string]any{
				"name":                   badge.Name,
				"qualifiedName":          qn,
				"badgeMetadataAttribute": full,
				"badgeConditions":        conditions,
			},
		}
		guid, found := existing[qn]
		if found {
			entity.GUID = guid
		} else {
			entity.Attributes["userDescription"] = badge.Description
		}

		log := e.logger.With().Str("badge", badge.Name).Str("qualified_name", qn).Logger()
		if !e.api.BulkUpsert(ctx, []catalog.Entity{entity}) {
			log.Warn().Bool("existing", found).Msg("Could not write badge")
			continue
		}
		written++
		if found {
			log.Debug().Msg("Updated badge conditions")
		} else {
			log.Info().Msg("Created badge")
		}
	}
	return written
}

func (e *Engine) findBadges(ctx context.Context) map[string]string {
	badges := make(map[string]string)
	resp, ok := e.api.Search(ctx, []string{catalog.TypeBadge},
		[]string{"name", "qualifiedName", "badgeMetadataAttribute"}, 0, constants.BadgeSearchSize)
	if ok {
		for _, ent := range resp.Entities {
			if qn := ent.Str("qualifiedName"); qn != "" && ent.GUID != "" {
				badges[qn] = ent.GUID
			}
		}
	}
	e.logger.Info().Int("count", len(badges)).Msg("Found existing badges")
	return badges
}
