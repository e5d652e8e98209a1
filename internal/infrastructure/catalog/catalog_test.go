package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

func TestDefaultManifest(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	names := make([]string, 0)
	for _, agent := range c.Agents() {
		names = append(names, agent.Name)
		assert.NotEmpty(t, agent.Indices, agent.Name)
		assert.Equal(t, domain.DefaultCredentialKeys[agent.Name], agent.CredentialKey, agent.Name)
	}
	assert.Equal(t, []string{"plaid", "quickbooks", "paypal", "stripe", "xero"}, names)

	stripe, ok := c.Agent("Stripe")
	require.True(t, ok)
	assert.Equal(t, "stripe_key", stripe.CredentialKey)
	assert.Equal(t, "stripe_charges", stripe.Indices[0].Name)
}

func TestParseFillsDefaults(t *testing.T) {
	c, err := Parse([]byte(`
agents:
  - name: " Xero "
    description: ledgers
    indices:
      - name: xero_invoices
        fields: {Total: double}
`))
	require.NoError(t, err)

	xero, ok := c.Agent("xero")
	require.True(t, ok)
	assert.Equal(t, "xero", xero.Service)
	assert.Equal(t, "xero_refresh_key", xero.CredentialKey)
	assert.Equal(t, "double", xero.Indices[0].Fields["Total"])
}

func TestParseRejectsBadManifests(t *testing.T) {
	cases := map[string]string{
		"empty":          `agents: []`,
		"duplicate":      "agents:\n  - name: stripe\n  - name: STRIPE\n",
		"no credential":  "agents:\n  - name: mystery\n",
		"hidden index":   "agents:\n  - name: stripe\n    indices:\n      - name: .security\n",
		"bad index name": "agents:\n  - name: stripe\n    indices:\n      - name: a b\n",
		"not yaml":       "agents: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Truef(t, domain.IsKind(err, domain.ErrInvalidInput), "%s: got %v", name, err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - name: plaid\n    version: \"2\"\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Agents(), 1)
	assert.Equal(t, "2", c.Agents()[0].Version)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
