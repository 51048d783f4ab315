// Package risk models scanner findings and the per-asset aggregates the
// sync engine writes into the catalog.
package risk

import (
	"sort"
	"strings"
)

// Severity is the scanner-assigned severity of a finding.
type Severity string

// Severity values reported by the scanner.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity normalizes a severity string. Unknown values map to LOW.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Finding is a single risk reported by the scanner.
// Category is free-form; new categories appear without code changes.
type Finding struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	Detail      string   `json:"detail,omitempty" yaml:"detail,omitempty"`
	Remediation string   `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// Summary aggregates findings. CRITICAL findings are counted as High.
type Summary struct {
	Total      int            `json:"total" yaml:"total"`
	High       int            `json:"high" yaml:"high"`
	Medium     int            `json:"medium" yaml:"medium"`
	Low        int            `json:"low" yaml:"low"`
	Categories map[string]int `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// Summarize builds a Summary over findings.
func Summarize(findings []Finding) Summary {
	s := Summary{Categories: make(map[string]int)}
	for _, f := range findings {
		s.Total++
		switch ParseSeverity(string(f.Severity)) {
		case SeverityCritical, SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		default:
			s.Low++
		}
		if cat := strings.TrimSpace(f.Category); cat != "" {
			s.Categories[cat]++
		}
	}
	return s
}

// Merge sums summaries into a new Summary.
func Merge(summaries ...Summary) Summary {
	out := Summary{Categories: make(map[string]int)}
	for _, s := range summaries {
		out.Total += s.Total
		out.High += s.High
		out.Medium += s.Medium
		out.Low += s.Low
		for cat, n := range s.Categories {
			out.Categories[cat] += n
		}
	}
	return out
}

// CategoryNames returns category names in lexical order.
func (s Summary) CategoryNames() []string {
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActiveCategories returns the names of categories with a positive count, in lexical order.
func (s Summary) ActiveCategories() []string {
	names := make([]string, 0, len(s.Categories))
	for _, name := range s.CategoryNames() {
		if s.Categories[name] > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Level is the summary-level classification used for rollup tags and announcements.
type Level int

// Rollup levels. Exactly one applies to any Summary.
const (
	LevelVerified Level = iota
	LevelRisks
	LevelHighRisk
)

// Rollup classifies s: any high finding wins, then any finding, else verified.
func (s Summary) Rollup() Level {
	switch {
	case s.High > 0:
		return LevelHighRisk
	case s.Total > 0:
		return LevelRisks
	default:
		return LevelVerified
	}
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelHighRisk:
		return "high_risk"
	case LevelRisks:
		return "risks_detected"
	default:
		return "verified"
	}
}
