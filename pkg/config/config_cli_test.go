package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentat.yaml")
	writeFile(t, path, `
llm:
  provider: ollama
  model: model-a
telemetry:
  exporter: stdout
`)
	t.Setenv("MENTAT_LLM_PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"chat",
		"--config", path,
		"--set", "llm.provider=mock",
		"--set", "memory.store=sqlite",
		"--set=agent.repeat_limit=0",
		"--set", "skills.timeout=5s",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Fatalf("--set must win over env, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" {
		t.Fatalf("model from file lost: %s", cfg.LLM.Model)
	}
	if cfg.Memory.Store != "sqlite" || cfg.Memory.SQLitePath != "mentat.db" {
		t.Fatalf("memory = %+v", cfg.Memory)
	}
	if cfg.Agent.RepeatLimit != 0 {
		t.Fatalf("repeat limit = %d", cfg.Agent.RepeatLimit)
	}
	if cfg.Skills.Timeout.Seconds() != 5 {
		t.Fatalf("skills timeout = %s", cfg.Skills.Timeout)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("exporter = %s", cfg.Telemetry.Exporter)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, "llm:\n  provider: ollama\n")
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), "llm:\n  provider: mock\n")

	tests := []struct {
		name string
		args []string
	}{
		{name: "profile flag", args: []string{"--config", basePath, "--profile", "dev"}},
		{name: "env flag alias", args: []string{"--config", basePath, "--env", "dev"}},
		{name: "profile with equals", args: []string{"--config=" + basePath, "--profile=dev"}},
		{name: "env with equals", args: []string{"--config=" + basePath, "--env=dev"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.LLM.Provider != "mock" {
				t.Errorf("provider: got %s, want mock", cfg.LLM.Provider)
			}
		})
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	tests := [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--set", "=value"},
	}
	for _, args := range tests {
		if _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("parseCLIOverrides(%q) succeeded, want error", args)
		}
	}
}

func TestParseCLIOverridesIgnoresOtherArgs(t *testing.T) {
	opts, err := parseCLIOverrides([]string{"ask", "--session", "s1", "what is new?"})
	if err != nil {
		t.Fatalf("parseCLIOverrides: %v", err)
	}
	if opts.path != "" || opts.profile != "" || len(opts.sets) != 0 {
		t.Fatalf("opts = %+v", opts)
	}
}
