package agents

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBuiltins(t *testing.T) {
	catalog, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(catalog.All()); got != 3 {
		t.Fatalf("expected 3 built-in agents, got %d", got)
	}
	agent, ok := catalog.Lookup("receptionist")
	if !ok {
		t.Fatal("expected receptionist persona")
	}
	if agent.Name != "Receptionist" {
		t.Fatalf("unexpected name: %s", agent.Name)
	}
	if agent.Temperature != 0.7 || agent.MaxTokens != 150 {
		t.Fatalf("unexpected generation params: %+v", agent)
	}
}

func TestLookupUnknown(t *testing.T) {
	catalog, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := catalog.Lookup("concierge"); ok {
		t.Fatal("expected unknown persona to be absent")
	}
}

func TestLoadOverlayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	doc := `agents:
  - id: concierge
    name: Concierge
    description: Hotel concierge
    prompt: You are a hotel concierge.
    voice_id: abc123
  - id: receptionist
    name: Front Desk
    prompt: You are the front desk.
    voice_id: def456
    temperature: 0.4
    max_tokens: 90
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}

	catalog, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(catalog.All()); got != 4 {
		t.Fatalf("expected 4 agents, got %d", got)
	}

	added, ok := catalog.Lookup("concierge")
	if !ok {
		t.Fatal("expected concierge persona")
	}
	if added.Temperature != 0.7 || added.MaxTokens != 150 {
		t.Fatalf("expected defaults applied, got %+v", added)
	}

	replaced, _ := catalog.Lookup("receptionist")
	if replaced.Name != "Front Desk" || replaced.Temperature != 0.4 || replaced.MaxTokens != 90 {
		t.Fatalf("expected overlay to replace built-in, got %+v", replaced)
	}
}

func TestLoadRejectsIncompleteAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	doc := `agents:
  - id: broken
    name: Broken
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write agents file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
