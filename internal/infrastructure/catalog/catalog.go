// Package catalog loads the agent manifest that describes which finance
// integrations this deployment can route to.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/finance-agent-router/internal/core/domain"
)

//go:embed agents.yaml
var defaultManifest []byte

var indexNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type manifest struct {
	Agents []domain.AgentDescriptor `yaml:"agents"`
}

// Catalog is an immutable, ordered set of agent descriptors.
type Catalog struct {
	agents []domain.AgentDescriptor
	byName map[string]int
}

// Load reads the manifest at path, or the built-in manifest when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultManifest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents manifest: %w", err)
	}
	return Parse(data)
}

func Default() (*Catalog, error) {
	return Parse(defaultManifest)
}

func Parse(data []byte) (*Catalog, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", err)
	}
	if len(m.Agents) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", errors.New("no agents defined"))
	}

	c := &Catalog{byName: make(map[string]int, len(m.Agents))}
	for _, agent := range m.Agents {
		agent.Name = strings.ToLower(strings.TrimSpace(agent.Name))
		if agent.Name == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", errors.New("agent without name"))
		}
		if _, dup := c.byName[agent.Name]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", fmt.Errorf("duplicate agent %q", agent.Name))
		}
		if agent.Service == "" {
			agent.Service = agent.Name
		}
		if agent.CredentialKey == "" {
			agent.CredentialKey = domain.DefaultCredentialKeys[agent.Name]
		}
		if agent.CredentialKey == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", fmt.Errorf("agent %q has no credential key", agent.Name))
		}
		if err := validateIndices(agent); err != nil {
			return nil, err
		}
		c.byName[agent.Name] = len(c.agents)
		c.agents = append(c.agents, agent)
	}
	return c, nil
}

func validateIndices(agent domain.AgentDescriptor) error {
	seen := make(map[string]struct{}, len(agent.Indices))
	for _, index := range agent.Indices {
		if !indexNamePattern.MatchString(index.Name) || strings.HasPrefix(index.Name, ".") {
			return domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", fmt.Errorf("agent %q: invalid index name %q", agent.Name, index.Name))
		}
		if _, dup := seen[index.Name]; dup {
			return domain.WrapError(domain.ErrInvalidInput, "parse agents manifest", fmt.Errorf("agent %q: duplicate index %q", agent.Name, index.Name))
		}
		seen[index.Name] = struct{}{}
	}
	return nil
}

// Agents returns descriptors in manifest order.
func (c *Catalog) Agents() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, len(c.agents))
	copy(out, c.agents)
	return out
}

func (c *Catalog) Agent(name string) (domain.AgentDescriptor, bool) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.AgentDescriptor{}, false
	}
	return c.agents[i], true
}
