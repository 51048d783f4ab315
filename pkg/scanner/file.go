package scanner

import (
	"context"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/risk"
)

// Snapshot is the on-disk form of a scanner export.
type Snapshot struct {
	Accounts []SnapshotAccount `yaml:"accounts"`
}

// SnapshotAccount is one account of a Snapshot with its tree and raw findings.
type SnapshotAccount struct {
	Account  `yaml:",inline"`
	Tree     *Node          `yaml:"tree,omitempty"`
	Findings []risk.Finding `yaml:"findings,omitempty"`
}

// FileSource serves accounts from a YAML snapshot.
type FileSource struct {
	path     string
	accounts []SnapshotAccount
}

// NewFileSource loads a snapshot from path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	src, err := ParseSnapshot(data)
	if err != nil {
		return nil, errors.WrapParse("yaml", path, err)
	}
	src.path = path
	return src, nil
}

// ParseSnapshot parses snapshot YAML.
func ParseSnapshot(data []byte) (*FileSource, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	for i, a := range snap.Accounts {
		if a.ID == "" && a.Name == "" {
			return nil, errors.NewValidationError("accounts", i, "account needs an id or a name")
		}
	}
	return &FileSource{accounts: snap.Accounts}, nil
}

// ListAccounts implements Source.
func (s *FileSource) ListAccounts(_ context.Context) ([]Account, error) {
	accounts := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a.Account)
	}
	return FilterSupported(accounts), nil
}

// BuildHierarchy implements Source. The returned tree is a copy with the
// account summary computed from the snapshot findings.
func (s *FileSource) BuildHierarchy(_ context.Context, account Account) (*Node, error) {
	for _, a := range s.accounts {
		if a.ID != account.ID || a.Name != account.Name {
			continue
		}
		root := &Node{Name: a.Name, Type: NodeAccount, Subtype: a.Type}
		if a.Tree != nil {
			root = cloneNode(a.Tree)
			if root.Type == "" {
				root.Type = NodeAccount
			}
			if root.Name == "" {
				root.Name = a.Name
			}
		}
		summary := risk.Summarize(a.Findings)
		root.RisksSummary = &summary
		return root, nil
	}
	return nil, errors.ErrNotFound
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Entitlements = append([]Entitlement(nil), n.Entitlements...)
	out.Children = make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out.Children = append(out.Children, cloneNode(c))
	}
	return &out
}
