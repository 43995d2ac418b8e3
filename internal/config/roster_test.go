package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `
agents:
  - name: security
    focus: injection and secrets
    max_tokens: 8192
  - name: style
    focus: naming and structure
    single_shot: true
    disabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	roster, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if len(roster.Agents) != 2 {
		t.Fatalf("got %d agents, want 2", len(roster.Agents))
	}
	if roster.Agents[0].MaxTokens != 8192 {
		t.Errorf("max_tokens = %d, want 8192", roster.Agents[0].MaxTokens)
	}

	enabled := roster.Enabled()
	if len(enabled) != 1 || enabled[0].Name != "security" {
		t.Errorf("enabled = %+v, want only security", enabled)
	}
}

func TestLoadRosterRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := "agents:\n  - name: dup\n    focus: a\n  - name: dup\n    focus: b\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRoster(path); err == nil {
		t.Error("duplicate agent names accepted")
	}
}

func TestValidateEmptyRoster(t *testing.T) {
	if err := (&Roster{}).Validate(); err == nil {
		t.Error("empty roster accepted")
	}
	if err := (&Roster{Agents: []RosterAgent{{Focus: "x"}}}).Validate(); err == nil {
		t.Error("unnamed agent accepted")
	}
}

func TestLoadRosterOrDefaultFallsBack(t *testing.T) {
	roster, err := LoadRosterOrDefault(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRosterOrDefault failed: %v", err)
	}
	if err := roster.Validate(); err != nil {
		t.Errorf("default roster invalid: %v", err)
	}
	if len(roster.Enabled()) == 0 {
		t.Error("default roster has no enabled agents")
	}
}

func TestSaveRosterRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := RosterPath(root)

	want := DefaultRoster()
	if err := SaveRoster(path, want); err != nil {
		t.Fatalf("SaveRoster failed: %v", err)
	}

	got, err := LoadRoster(path)
	if err != nil {
		t.Fatalf("LoadRoster failed: %v", err)
	}
	if len(got.Agents) != len(want.Agents) {
		t.Fatalf("got %d agents, want %d", len(got.Agents), len(want.Agents))
	}
	for i := range want.Agents {
		if got.Agents[i] != want.Agents[i] {
			t.Errorf("agent %d = %+v, want %+v", i, got.Agents[i], want.Agents[i])
		}
	}
}
