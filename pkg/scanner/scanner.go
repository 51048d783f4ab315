// Package scanner defines the data the risk scanner hands to the sync
// engine: active accounts and the database/schema/table hierarchy of each,
// with the account-level risk summary attached to the root node.
package scanner

import (
	"context"
	"strings"

	"github.com/agentstation/riskmap/pkg/risk"
)

// NodeType is the kind of a hierarchy node.
type NodeType string

// Node types produced by the scanner.
const (
	NodeAccount         NodeType = "ACCOUNT"
	NodeAccessContainer NodeType = "ACCESS_CONTAINER"
	NodeDatabase        NodeType = "DATABASE"
	NodeSchema          NodeType = "SCHEMA"
	NodeTable           NodeType = "TABLE"
)

// EntityType is the kind of principal holding an entitlement.
type EntityType string

// Principal kinds.
const (
	EntityRole  EntityType = "ROLE"
	EntityUser  EntityType = "USER"
	EntityGroup EntityType = "GROUP"
)

// Account is an active scanner account on a supported platform.
type Account struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Entitlement is a grant held by a role, user or group on a node.
type Entitlement struct {
	EntityType EntityType `json:"entity_type" yaml:"entity_type"`
	Name       string     `json:"name" yaml:"name"`
	Privileges []string   `json:"privileges,omitempty" yaml:"privileges,omitempty"`
}

// Node is one level of an account hierarchy.
type Node struct {
	Name         string        `json:"name" yaml:"name"`
	Type         NodeType      `json:"type" yaml:"type"`
	Subtype      string        `json:"subtype,omitempty" yaml:"subtype,omitempty"`
	Children     []*Node       `json:"children,omitempty" yaml:"children,omitempty"`
	Entitlements []Entitlement `json:"entitlements,omitempty" yaml:"entitlements,omitempty"`
	RisksSummary *risk.Summary `json:"risks_summary,omitempty" yaml:"risks_summary,omitempty"`
}

// Summary returns the node's risk summary, or an empty one.
func (n *Node) Summary() risk.Summary {
	if n == nil || n.RisksSummary == nil {
		return risk.Summary{Categories: map[string]int{}}
	}
	return *n.RisksSummary
}

// Databases returns the database nodes of an account tree. Databases live
// under the ACCESS_CONTAINER child when present, otherwise directly under the root.
func (n *Node) Databases() []*Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child != nil && child.Type == NodeAccessContainer {
			return child.Children
		}
	}
	var dbs []*Node
	for _, child := range n.Children {
		if child != nil && child.Type == NodeDatabase {
			dbs = append(dbs, child)
		}
	}
	return dbs
}

// Source is a scanner the runner can pull accounts and hierarchies from.
type Source interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	BuildHierarchy(ctx context.Context, account Account) (*Node, error)
}

// SupportedPlatforms lists the account platform types that are synced.
var SupportedPlatforms = []string{"snowflake", "databricks"}

// IsSupported reports whether platform is one of SupportedPlatforms.
func IsSupported(platform string) bool {
	p := strings.ToLower(strings.TrimSpace(platform))
	for _, s := range SupportedPlatforms {
		if p == s {
			return true
		}
	}
	return false
}

// FilterSupported keeps accounts on supported platforms.
func FilterSupported(accounts []Account) []Account {
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if IsSupported(a.Type) {
			out = append(out, a)
		}
	}
	return out
}
