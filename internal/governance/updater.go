package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/metrics"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/risk"
)

// AssetRef identifies a catalog asset to write.
type AssetRef struct {
	GUID          string `json:"guid" yaml:"guid"`
	TypeName      string `json:"typeName" yaml:"typeName"`
	Name          string `json:"name" yaml:"name"`
	QualifiedName string `json:"qualifiedName" yaml:"qualifiedName"`
	Connection    string `json:"connectionName,omitempty" yaml:"connectionName,omitempty"`
	Domain        string `json:"domain" yaml:"domain"`
}

// Announcement is the banner shown at the top of an asset.
type Announcement struct {
	Type    string
	Title   string
	Message string
}

// Announcement tiers.
const (
	AnnouncementIssue       = "issue"
	AnnouncementWarning     = "warning"
	AnnouncementInformation = "information"
)

// FormatTimestamp renders t the way it is written to assets.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(constants.TimeFormatScan)
}

// ScanStatus returns the scan status text for s.
func ScanStatus(s risk.Summary) string {
	switch {
	case s.Total == 0:
		return constants.VerifiedStatus
	case s.High > 0:
		return fmt.Sprintf("⚠ %d High | %d Med | %d Low", s.High, s.Medium, s.Low)
	default:
		return fmt.Sprintf("%d %s Found", s.Total, plural(s.Total, "Risk"))
	}
}

// RiskDetails returns one "category: count" line per active category.
func RiskDetails(s risk.Summary) string {
	if s.Total == 0 {
		return constants.VerifiedDetails
	}
	active := s.ActiveCategories()
	if len(active) == 0 {
		return "Risks detected"
	}
	lines := make([]string, len(active))
	for i, cat := range active {
		lines[i] = fmt.Sprintf("%s: %d", cat, s.Categories[cat])
	}
	return strings.Join(lines, "\n")
}

// AttributeValues returns the attribute values for s keyed by attribute key.
func AttributeValues(s risk.Summary, ts string) map[string]any {
	categories := "None"
	if names := s.CategoryNames(); len(names) > 0 {
		categories = strings.Join(names, ", ")
	}
	return map[string]any{
		AttrTotalRisks:     s.Total,
		AttrHighSeverity:   s.High,
		AttrMediumSeverity: s.Medium,
		AttrLowSeverity:    s.Low,
		AttrRiskCategories: categories,
		AttrLastScanned:    ts,
		AttrScanStatus:     ScanStatus(s),
		AttrRiskDetails:    RiskDetails(s),
	}
}

// BuildAnnouncement picks the banner tier and text for s.
func BuildAnnouncement(s risk.Summary, ts string) Announcement {
	switch {
	case s.High > 0:
		lines := []string{fmt.Sprintf("⚠ %d total %s: %d high, %d medium, %d low",
			s.Total, plural(s.Total, "risk"), s.High, s.Medium, s.Low)}
		lines = appendCategoryLine(lines, s)
		lines = append(lines, "Last scanned: "+ts)
		return Announcement{
			Type:    AnnouncementIssue,
			Title:   fmt.Sprintf("TrustLogix: %d High Severity %s Detected", s.High, plural(s.High, "Risk")),
			Message: strings.Join(lines, "\n"),
		}
	case s.Total > 0:
		lines := []string{fmt.Sprintf("%d medium, %d low severity", s.Medium, s.Low)}
		lines = appendCategoryLine(lines, s)
		lines = append(lines, "Last scanned: "+ts)
		return Announcement{
			Type:    AnnouncementWarning,
			Title:   fmt.Sprintf("TrustLogix: %d %s Detected", s.Total, plural(s.Total, "Risk")),
			Message: strings.Join(lines, "\n"),
		}
	default:
		return Announcement{
			Type:    AnnouncementInformation,
			Title:   "TrustLogix: Data Access Governance Verified",
			Message: "No security risks detected. Data access governance verified. Last scanned: " + ts,
		}
	}
}

func appendCategoryLine(lines []string, s risk.Summary) []string {
	active := s.ActiveCategories()
	if len(active) == 0 {
		return lines
	}
	parts := make([]string, len(active))
	for i, cat := range active {
		parts[i] = fmt.Sprintf("%s (%d)", cat, s.Categories[cat])
	}
	return append(lines, "Categories: "+strings.Join(parts, ", "))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// UpdateAsset writes the risk attributes, tags and announcement for one
// asset. It reports whether the attribute write succeeded; tags and
// announcement are only attempted after it does.
func (e *Engine) UpdateAsset(ctx context.Context, ref AssetRef, s risk.Summary) bool {
	logger := e.logger.With().Str("asset_guid", ref.GUID).Logger()

	schema := e.Schema()
	if schema == nil {
		logger.Error().Msg("Cannot update asset: custom metadata not resolved")
		metrics.RecordAsset(metrics.ResultFailed)
		return false
	}
	if e.ShouldAbort() {
		metrics.RecordAsset(metrics.ResultSkipped)
		return false
	}

	unlock := e.locks.Lock(ref.GUID)
	defer unlock()
	e.setState(StateSyncing)

	ts := FormatTimestamp(e.now())
	raw := AttributeValues(s, ts)
	values := make(map[string]any, len(raw))
	for _, a := range Attributes {
		if name, ok := schema.Attribute(a.Key); ok {
			values[name] = raw[a.Key]
		}
	}
	if len(values) == 0 {
		logger.Warn().Msg("No resolved attributes to write")
		metrics.RecordAsset(metrics.ResultFailed)
		return false
	}

	logger.Debug().Int("attributes", len(values)).Str("status", ScanStatus(s)).Msg("Writing custom metadata")
	ok := e.api.WriteBusinessMetadata(ctx, ref.GUID, map[string]map[string]any{schema.InternalName: values})
	if !ok {
		logger.Warn().Msg("Custom metadata update failed")
	}

	if e.ShouldAbort() {
		logger.Error().
			Int("consecutive_403", e.breaker.Consecutive()).
			Msg("Aborting: the API token persona needs business metadata write permission")
		metrics.RecordAsset(metrics.ResultFailed)
		return false
	}
	if !ok {
		metrics.RecordAsset(metrics.ResultFailed)
		return false
	}

	e.SyncAssetTags(ctx, ref.GUID, e.DesiredTags(ctx, s))
	e.setAnnouncement(ctx, ref, BuildAnnouncement(s, ts))

	metrics.RecordAsset(metrics.ResultSynced)
	return true
}

func (e *Engine) setAnnouncement(ctx context.Context, ref AssetRef, a Announcement) {
	if ref.Name == "" || ref.QualifiedName == "" {
		e.logger.Debug().Str("asset_guid", ref.GUID).Msg("Skipping announcement: missing name or qualifiedName")
		return
	}
	typeName := ref.TypeName
	if typeName == "" {
		typeName = catalog.TypeTable
	}
	entity := catalog.Entity{
		TypeName: typeName,
		GUID:     ref.GUID,
		Attributes: map[string]any{
			"name":                ref.Name,
			"qualifiedName":       ref.QualifiedName,
			"announcementType":    a.Type,
			"announcementTitle":   a.Title,
			"announcementMessage": a.Message,
		},
	}
	if e.api.UpsertEntity(ctx, entity) {
		e.logger.Debug().Str("asset_guid", ref.GUID).Str("type", a.Type).Str("title", a.Title).Msg("Set announcement")
	} else {
		e.logger.Debug().Str("asset_guid", ref.GUID).Msg("Announcement update failed")
	}
}

// UpdateDomain writes an aggregated summary onto the named domain. Unknown
// domains and domains without a qualified name are skipped.
func (e *Engine) UpdateDomain(ctx context.Context, name string, s risk.Summary) bool {
	info, ok := e.Domains().ByName(name)
	if !ok {
		e.logger.Debug().Str("domain", name).Msg("Domain not found in catalog, skipping domain metadata")
		return false
	}
	if info.QualifiedName == "" {
		e.logger.Debug().Str("domain", name).Msg("Domain has no qualifiedName, skipping")
		return false
	}
	e.logger.Info().Str("domain", name).Str("guid", info.GUID).Msg("Writing governance metadata to domain")
	return e.UpdateAsset(ctx, AssetRef{
		GUID:          info.GUID,
		TypeName:      catalog.TypeDataDomain,
		Name:          name,
		QualifiedName: info.QualifiedName,
		Domain:        name,
	}, s)
}
