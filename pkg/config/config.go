// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mentat settings. Sources are layered: built-in
// defaults, then the YAML file, then a profile file next to it, then MENTAT_*
// environment variables and finally --set overrides from the command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/skills"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. MENTAT_LLM_MODEL.
const EnvPrefix = "MENTAT_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	LLM       LLMConfig       `koanf:"llm"`
	Agent     AgentConfig     `koanf:"agent"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Memory    MemoryConfig    `koanf:"memory"`
	Skills    SkillsConfig    `koanf:"skills"`
	Account   AccountConfig   `koanf:"account"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text, off
}

type TelemetryConfig struct {
	Exporter       string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

// Telemetry converts the section into exporter settings.
func (t TelemetryConfig) Telemetry() telemetry.Config {
	return telemetry.Config{
		Exporter:       t.Exporter,
		OTLPEndpoint:   t.OTLPEndpoint,
		OTLPInsecure:   t.OTLPInsecure,
		MetricInterval: t.MetricInterval,
	}
}

type LLMConfig struct {
	Provider       string        `koanf:"provider"` // openai, ollama, mock
	Model          string        `koanf:"model"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Timeout        time.Duration `koanf:"timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type AgentConfig struct {
	MaxTurns     int `koanf:"max_turns"`
	ResultLimit  int `koanf:"result_limit"`
	RepeatLimit  int `koanf:"repeat_limit"`
	HistoryLimit int `koanf:"history_limit"`
}

type RetrievalConfig struct {
	Store           string `koanf:"store"` // embedded, qdrant
	QdrantAddr      string `koanf:"qdrant_addr"`
	Embedder        string `koanf:"embedder"` // hash, ollama, openai
	EmbedderModel   string `koanf:"embedder_model"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderAPIKey  string `koanf:"embedder_api_key"`
	HashDimension   int    `koanf:"hash_dimension"`
	ChunkSize       int    `koanf:"chunk_size"`
	TopK            int    `koanf:"top_k"`
}

type MemoryConfig struct {
	Store      string `koanf:"store"` // inmemory, sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type SkillsConfig struct {
	TavilyAPIKey string        `koanf:"tavily_api_key"`
	UploadDir    string        `koanf:"upload_dir"`
	OverridesDir string        `koanf:"overrides_dir"`
	Timeout      time.Duration `koanf:"timeout"`
}

// AccountConfig is the identity used by the CLI and the MCP server, which
// have no authenticated caller of their own.
type AccountConfig struct {
	ID          string             `koanf:"id"`
	Permissions skills.Permissions `koanf:"permissions"`
}

type MCPConfig struct {
	// Servers are remote MCP servers whose tools become skills named
	// "<server>_<tool>".
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig sets exactly one of Command (stdio) or URL (streamable
// HTTP).
type MCPServerConfig struct {
	Command    string   `koanf:"command"`
	Args       []string `koanf:"args"`
	URL        string   `koanf:"url"`
	Capability string   `koanf:"capability"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter":        "none",
		"telemetry.otlp_endpoint":   "localhost:4317",
		"telemetry.otlp_insecure":   true,
		"telemetry.metric_interval": time.Minute,

		"llm.provider":        "ollama",
		"llm.model":           "qwen2.5:7b-instruct",
		"llm.base_url":        "",
		"llm.timeout":         120 * time.Second,
		"llm.connect_timeout": 60 * time.Second,

		"agent.max_turns":     10,
		"agent.result_limit":  5000,
		"agent.repeat_limit":  2,
		"agent.history_limit": 20,

		"retrieval.store":             "embedded",
		"retrieval.qdrant_addr":       "localhost:6334",
		"retrieval.embedder":          "hash",
		"retrieval.embedder_model":    "",
		"retrieval.embedder_base_url": "",
		"retrieval.hash_dimension":    256,
		"retrieval.chunk_size":        1000,
		"retrieval.top_k":             10,

		"memory.store":       "inmemory",
		"memory.sqlite_path": "mentat.db",

		"skills.upload_dir": "uploads",
		"skills.timeout":    60 * time.Second,

		"account.id": "default",
		"account.permissions.knowledge_base_enabled":       true,
		"account.permissions.knowledge_base_write_enabled": false,
		"account.permissions.web_search_enabled":           false,
		"account.permissions.memory_enabled":               true,
	}
}

// Load reads defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile is Load plus an optional profile file: for config.yaml and
// profile "dev" the file config.dev.yaml is layered on top when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration from command line arguments. It accepts
// --config <path>, --profile <name> (alias --env) and repeated
// --set key=value overrides, in both "--flag value" and "--flag=value" form.
// Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, opts.sets)
}

func load(path, profile string, sets map[string]string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "load config file", err).
				WithContext("path", path)
		}
		if profilePath := profileConfigPath(path, profile); profilePath != "" {
			if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
				return nil, errors.New(errors.CodeInvalidInput, "load profile config", err).
					WithContext("path", profilePath)
			}
		}
	}

	// MENTAT_LLM_API_KEY -> llm.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a config key. The first underscore
// separates the section; account permissions nest one level further.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	if section == "account" {
		if perm, ok := strings.CutPrefix(rest, "permissions_"); ok {
			return "account.permissions." + perm
		}
	}
	return section + "." + rest
}

// Validate checks enumerated settings and numeric bounds.
func (c *Config) Validate() error {
	checks := []struct {
		key   string
		value string
		allow []string
	}{
		{"llm.provider", c.LLM.Provider, []string{"openai", "ollama", "mock"}},
		{"retrieval.store", c.Retrieval.Store, []string{"embedded", "qdrant"}},
		{"retrieval.embedder", c.Retrieval.Embedder, []string{"hash", "ollama", "openai"}},
		{"memory.store", c.Memory.Store, []string{"inmemory", "sqlite"}},
		{"telemetry.exporter", c.Telemetry.Exporter, []string{"none", "stdout", "otlp"}},
	}
	for _, ch := range checks {
		if !contains(ch.allow, ch.value) {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("%s must be one of %s, got %q", ch.key, strings.Join(ch.allow, ", "), ch.value), nil)
		}
	}
	if c.Agent.MaxTurns <= 0 {
		return errors.New(errors.CodeInvalidInput, "agent.max_turns must be positive", nil)
	}
	if c.Retrieval.ChunkSize <= 0 {
		return errors.New(errors.CodeInvalidInput, "retrieval.chunk_size must be positive", nil)
	}
	if c.Memory.Store == "sqlite" && strings.TrimSpace(c.Memory.SQLitePath) == "" {
		return errors.New(errors.CodeInvalidInput, "memory.sqlite_path is required for the sqlite store", nil)
	}
	if strings.TrimSpace(c.Account.ID) == "" {
		return errors.New(errors.CodeInvalidInput, "account.id is required", nil)
	}
	for name, srv := range c.MCP.Servers {
		if (srv.Command == "") == (srv.URL == "") {
			return errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("mcp.servers.%s needs exactly one of command or url", name), nil)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type cliOptions struct {
	path    string
	profile string
	sets    map[string]string
}

func parseCLIOverrides(args []string) (cliOptions, error) {
	opts := cliOptions{sets: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return cliOptions{}, errors.New(errors.CodeInvalidInput, "missing value for "+name, nil)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, v, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return cliOptions{}, errors.New(errors.CodeInvalidInput, "--set expects key=value, got "+value, nil)
			}
			opts.sets[strings.TrimSpace(key)] = v
		}
	}
	return opts, nil
}

// profileConfigPath returns the profile file for base, or "" when either is
// empty or the file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
