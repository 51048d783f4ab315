package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/riskmap/pkg/errors"
)

const snapshotYAML = `
accounts:
  - id: "acc-1"
    name: prod
    type: Snowflake
    tree:
      children:
        - name: access
          type: ACCESS_CONTAINER
          children:
            - name: crm
              type: DATABASE
              entitlements:
                - entity_type: ROLE
                  name: ANALYST
                  privileges: [SELECT]
    findings:
      - severity: CRITICAL
        category: Data Exfiltration
      - severity: MEDIUM
        category: PII Exposure
  - id: "acc-2"
    name: lake
    type: databricks
  - id: "acc-3"
    name: warehouse
    type: redshift
`

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(snapshotYAML), 0o644))

	src, err := NewFileSource(path)
	require.NoError(t, err)

	ctx := context.Background()
	accounts, err := src.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2, "unsupported platforms are filtered")
	assert.Equal(t, "prod", accounts[0].Name)
	assert.Equal(t, "lake", accounts[1].Name)

	tree, err := src.BuildHierarchy(ctx, accounts[0])
	require.NoError(t, err)
	assert.Equal(t, NodeAccount, tree.Type)
	assert.Equal(t, "prod", tree.Name)

	dbs := tree.Databases()
	require.Len(t, dbs, 1)
	assert.Equal(t, "crm", dbs[0].Name)
	assert.Equal(t, EntityRole, dbs[0].Entitlements[0].EntityType)

	summary := tree.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.High)
	assert.Equal(t, 1, summary.Medium)

	bare, err := src.BuildHierarchy(ctx, accounts[1])
	require.NoError(t, err)
	assert.Equal(t, "databricks", bare.Subtype)
	assert.Empty(t, bare.Databases())
	assert.Zero(t, bare.Summary().Total)

	_, err = src.BuildHierarchy(ctx, Account{ID: "missing"})
	assert.True(t, errors.IsNotFound(err))
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"))
	var ioErr *errors.IOError
	assert.ErrorAs(t, err, &ioErr)

	_, err = ParseSnapshot([]byte("accounts:\n  - type: snowflake\n"))
	assert.True(t, errors.IsValidationError(err))
}

func TestDatabasesDirectChildren(t *testing.T) {
	tree := &Node{Type: NodeAccount, Children: []*Node{
		{Name: "A", Type: NodeDatabase},
		{Name: "x", Type: NodeSchema},
		{Name: "B", Type: NodeDatabase},
	}}
	dbs := tree.Databases()
	require.Len(t, dbs, 2)
	assert.Equal(t, "B", dbs[1].Name)

	var nilNode *Node
	assert.Nil(t, nilNode.Databases())
	assert.NotNil(t, nilNode.Summary().Categories)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("SNOWFLAKE"))
	assert.True(t, IsSupported(" databricks"))
	assert.False(t, IsSupported("bigquery"))
}
