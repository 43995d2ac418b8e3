package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RosterAgent describes one review agent in the roster.
type RosterAgent struct {
	// Name is the agent's unique identity.
	Name string `yaml:"name"`
	// Focus describes what the agent looks for.
	Focus string `yaml:"focus"`
	// Model overrides the default model for this agent, if set.
	Model string `yaml:"model,omitempty"`
	// MaxTokens caps tokens per call for this agent. 0 uses the default.
	MaxTokens int64 `yaml:"max_tokens,omitempty"`
	// SingleShot runs the agent as one call instead of a phase sequence.
	SingleShot bool `yaml:"single_shot,omitempty"`
	// Disabled excludes the agent from runs without removing it.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Roster is the set of review agents a run draws from.
type Roster struct {
	Agents []RosterAgent `yaml:"agents"`
}

// Enabled returns the agents that are not disabled.
func (r *Roster) Enabled() []RosterAgent {
	var out []RosterAgent
	for _, a := range r.Agents {
		if !a.Disabled {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks the roster for empty or duplicate agent names.
func (r *Roster) Validate() error {
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster has no agents")
	}

	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// RosterPath returns the project roster file path (.revue/agents.yaml).
func RosterPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".revue", "agents.yaml")
}

// LoadRoster loads and validates an agent roster from a YAML file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	roster := &Roster{}
	if err := yaml.Unmarshal(data, roster); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := roster.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roster %s: %w", path, err)
	}
	return roster, nil
}

// LoadRosterOrDefault loads the project roster if it exists, falling back
// to the built-in default roster.
func LoadRosterOrDefault(projectRoot string) (*Roster, error) {
	path := RosterPath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultRoster(), nil
	}
	return LoadRoster(path)
}

// SaveRoster writes a roster to a YAML file, creating parent directories.
func SaveRoster(path string, roster *Roster) error {
	if err := roster.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(roster)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create roster directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultRoster returns the built-in review agents used when a project
// has no roster file.
func DefaultRoster() *Roster {
	return &Roster{
		Agents: []RosterAgent{
			{Name: "security", Focus: "injection, secrets, unsafe input handling, authz gaps"},
			{Name: "correctness", Focus: "logic errors, race conditions, unhandled edge cases"},
			{Name: "maintainability", Focus: "naming, duplication, dead code, test coverage", SingleShot: true},
		},
	}
}
