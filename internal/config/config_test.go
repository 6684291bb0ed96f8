package config

import (
	"path/filepath"
	"testing"
)

func baseProject(name string) ProjectConfig {
	return ProjectConfig{Name: name, RemoteURL: "file:///tmp/" + name + ".git"}
}

func TestValidateRejectsDuplicateProjectNames(t *testing.T) {
	cf := ConfigFile{Projects: []ProjectConfig{baseProject("demo"), baseProject("demo")}}
	if err := cf.Validate(); err == nil {
		t.Fatal("expected error for duplicate project names")
	}
}

func TestValidateRejectsInvalidNameChars(t *testing.T) {
	cf := ConfigFile{Projects: []ProjectConfig{baseProject("demo/../etc")}}
	if err := cf.Validate(); err == nil {
		t.Fatal("expected error for invalid project name")
	}
}

func TestValidateRejectsLinearWithoutTeam(t *testing.T) {
	p := baseProject("demo")
	p.IssueBackend = IssueBackendLinear
	cf := ConfigFile{Projects: []ProjectConfig{p}}
	if err := cf.Validate(); err == nil {
		t.Fatal("expected error for linear backend without linear-team")
	}
}

func TestValidateRejectsExplicitZeroMaxAgents(t *testing.T) {
	p := baseProject("demo")
	zero := 0
	p.MaxAgents = &zero
	cf := ConfigFile{Projects: []ProjectConfig{p}}
	if err := cf.Validate(); err == nil {
		t.Fatal("expected error for explicit max-agents = 0")
	}
}

func TestValidateAcceptsAbsentMaxAgents(t *testing.T) {
	p := baseProject("demo")
	cf := ConfigFile{Projects: []ProjectConfig{p}}
	if err := cf.Validate(); err != nil {
		t.Fatalf("unexpected error for unset max-agents: %v", err)
	}
	if p.EffectiveMaxAgents() != defaultMaxAgents {
		t.Fatalf("expected default max-agents, got %d", p.EffectiveMaxAgents())
	}
}

func TestAddProjectRejectsExplicitZeroMaxAgents(t *testing.T) {
	cf := ConfigFile{}
	zero := 0
	p := baseProject("demo")
	p.MaxAgents = &zero
	if _, err := cf.AddProject(p); err == nil {
		t.Fatal("expected error for explicit max-agents = 0")
	}
}

func TestSetProjectKeyRejectsZeroMaxAgents(t *testing.T) {
	cf := ConfigFile{Projects: []ProjectConfig{baseProject("demo")}}
	if _, err := cf.SetProjectKey("demo", "max-agents", "0"); err == nil {
		t.Fatal("expected error setting max-agents to 0")
	}
}

func TestValidateAcceptsLinearWithTeam(t *testing.T) {
	p := baseProject("demo")
	p.IssueBackend = IssueBackendLinear
	p.LinearTeam = "eng"
	cf := ConfigFile{Projects: []ProjectConfig{p}}
	if err := cf.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetGetProjectKeyRoundTrip(t *testing.T) {
	cf := ConfigFile{Projects: []ProjectConfig{baseProject("demo")}}

	cf, err := cf.SetProjectKey("demo", "max_agents", "5")
	if err != nil {
		t.Fatalf("set max_agents: %v", err)
	}
	v, err := cf.GetProjectKeyValue("demo", "max-agents")
	if err != nil || v != "5" {
		t.Fatalf("get max-agents = %q, %v", v, err)
	}

	cf, err = cf.SetProjectKey("demo", "Merge-Strategy", "pull_request")
	if err != nil {
		t.Fatalf("set merge-strategy: %v", err)
	}
	v, err = cf.GetProjectKeyValue("demo", "merge_strategy")
	if err != nil || v != "pull_request" {
		t.Fatalf("get merge-strategy = %q, %v", v, err)
	}

	cf, err = cf.SetProjectKey("demo", "allowed_authors", " alice , bob ,")
	if err != nil {
		t.Fatalf("set allowed-authors: %v", err)
	}
	v, err = cf.GetProjectKeyValue("demo", "allowed-authors")
	if err != nil || v != "alice,bob" {
		t.Fatalf("get allowed-authors = %q, %v", v, err)
	}

	if _, err := cf.SetProjectKey("demo", "bogus-key", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, err := cf.GetProjectKeyValue("demo", "bogus-key"); err == nil {
		t.Fatal("expected error for unknown key on read")
	}
}

func TestEffectiveDefaults(t *testing.T) {
	p := baseProject("demo")
	if p.EffectiveMaxAgents() != defaultMaxAgents {
		t.Errorf("max agents default = %d, want %d", p.EffectiveMaxAgents(), defaultMaxAgents)
	}
	if p.EffectiveAgentBackend() != AgentBackendCodex {
		t.Errorf("agent backend default = %s, want codex", p.EffectiveAgentBackend())
	}
	if p.EffectiveCodingBackend() != AgentBackendCodex {
		t.Errorf("coding backend should fall back to agent backend")
	}
	p.AgentBackend = AgentBackendClaude
	p.CodingBackend = AgentBackendCodex
	if p.EffectiveCodingBackend() != AgentBackendCodex {
		t.Errorf("explicit coding backend should not be overridden")
	}
	if p.EffectivePlannerBackend() != AgentBackendClaude {
		t.Errorf("planner backend should fall back to agent backend")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cf := ConfigFile{
		Projects: []ProjectConfig{baseProject("demo")},
		Polling:  PollingConfig{CommentIntervalSecs: 30},
	}
	if err := Save(path, cf); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Projects) != 1 || loaded.Projects[0].Name != "demo" {
		t.Fatalf("loaded projects = %+v", loaded.Projects)
	}
	if loaded.Polling.EffectiveCommentIntervalSecs() != 30 {
		t.Fatalf("loaded polling interval = %d", loaded.Polling.EffectiveCommentIntervalSecs())
	}
}

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	dir := t.TempDir()
	cf, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cf.Projects) != 0 {
		t.Fatalf("expected empty config, got %+v", cf)
	}
}
