package domain

// AgentDescriptor describes an agent registered in the catalog.
type AgentDescriptor struct {
	Name          string          `json:"agent_name" yaml:"name"`
	Service       string          `json:"service_name" yaml:"service"`
	Description   string          `json:"description" yaml:"description"`
	Version       string          `json:"version" yaml:"version"`
	CredentialKey string          `json:"-" yaml:"credential_key"`
	Indices       []IndexMetadata `json:"-" yaml:"indices"`
}

// IndexMetadata is the model-facing description of a searchable index.
type IndexMetadata struct {
	Name        string            `json:"-" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Fields      map[string]string `json:"fields,omitempty" yaml:"fields"`
}

// DefaultCredentialKeys maps agent names to the project column that enables them.
var DefaultCredentialKeys = map[string]string{
	"plaid":      "plaid_token",
	"quickbooks": "quickbooks_refresh_key",
	"paypal":     "paypal_client_secret",
	"stripe":     "stripe_key",
	"xero":       "xero_refresh_key",
}

// ProjectCredentials reports which integration credentials a project holds.
type ProjectCredentials map[string]bool

func (c ProjectCredentials) Has(key string) bool {
	return c[key]
}
