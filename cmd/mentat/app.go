package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"

	"github.com/mentat-ai/mentat/pkg/agent"
	"github.com/mentat-ai/mentat/pkg/builtin"
	"github.com/mentat-ai/mentat/pkg/config"
	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/mentat-ai/mentat/pkg/mcp"
	"github.com/mentat-ai/mentat/pkg/memory"
	"github.com/mentat-ai/mentat/pkg/retrieval"
	"github.com/mentat-ai/mentat/pkg/retrieval/ollama"
	"github.com/mentat-ai/mentat/pkg/retrieval/qdrant"
	"github.com/mentat-ai/mentat/pkg/skills"
	"github.com/mentat-ai/mentat/pkg/telemetry"
	"github.com/mentat-ai/mentat/providers/openai"
)

// app holds everything a command needs, wired from one Config.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	accounts  memory.AccountStore
	history   memory.ConversationStore
	pipeline  *retrieval.Pipeline
	registry  *skills.Registry
	gateway   *llm.Gateway
	agent     *agent.Orchestrator
	sessions  *agent.Sessions
	closers   []func() error
	remoteMCP []string
}

// appOption adjusts wiring; tests use it to swap the model provider.
type appOption func(*appSettings)

type appSettings struct {
	provider llm.Provider
}

func withProvider(p llm.Provider) appOption {
	return func(s *appSettings) { s.provider = p }
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (_ *app, err error) {
	var settings appSettings
	for _, opt := range opts {
		opt(&settings)
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	history, accounts, closeStores, err := newStores(cfg.Memory)
	if err != nil {
		return nil, err
	}
	a.history, a.accounts = history, accounts
	a.closers = append(a.closers, closeStores)

	embedder, err := newEmbedder(cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := newVectorStore(cfg.Retrieval, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.pipeline = retrieval.NewPipeline(store,
		retrieval.WithChunkSize(cfg.Retrieval.ChunkSize),
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithLogger(telemetry.Component(logger, "retrieval")),
		retrieval.WithTracer(otel.Tracer("mentat/retrieval")),
	)

	overrides, err := skills.LoadOverrides(cfg.Skills.OverridesDir)
	if err != nil {
		return nil, fmt.Errorf("load skill overrides: %w", err)
	}
	a.registry = skills.NewRegistry(
		skills.WithLogger(telemetry.Component(logger, "skills")),
		skills.WithTimeout(cfg.Skills.Timeout),
		skills.WithOverrides(overrides),
		skills.WithTracer(otel.Tracer("mentat/skills")),
		skills.WithMeter(otel.Meter("mentat/skills")),
	)
	err = builtin.Register(a.registry, builtin.Deps{
		Pipeline:  a.pipeline,
		Search:    builtin.NewTavily(cfg.Skills.TavilyAPIKey),
		Parser:    builtin.PlainTextParser{},
		UploadDir: cfg.Skills.UploadDir,
	})
	if err != nil {
		return nil, err
	}
	if err := a.connectRemoteTools(ctx); err != nil {
		return nil, err
	}

	provider := settings.provider
	if provider == nil {
		if provider, err = newProvider(cfg.LLM); err != nil {
			return nil, err
		}
	}
	a.gateway = llm.NewGateway(provider, cfg.LLM.Model,
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithGatewayLogger(telemetry.Component(logger, "llm")),
	)

	metrics, err := telemetry.NewAgentMetrics(otel.Meter("mentat/agent"))
	if err != nil {
		return nil, err
	}
	a.agent, err = agent.New(a.gateway, a.registry,
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithResultLimit(cfg.Agent.ResultLimit),
		agent.WithRepeatLimit(cfg.Agent.RepeatLimit),
		agent.WithModel(cfg.LLM.Model),
		agent.WithLogger(telemetry.Component(logger, "agent")),
		agent.WithTracer(otel.Tracer("mentat/agent")),
		agent.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	uploadDir := cfg.Skills.UploadDir
	a.sessions = agent.NewSessions(a.agent, a.history,
		agent.WithHistoryLimit(cfg.Agent.HistoryLimit),
		agent.WithCleanup(
			a.pipeline.DeleteSession,
			func(_ context.Context, accountID, sessionID string) error {
				return builtin.RemoveSessionDocuments(uploadDir, accountID, sessionID)
			},
		),
		agent.WithSessionLogger(telemetry.Component(logger, "sessions")),
	)
	return a, nil
}

// skillContext is the caller identity for CLI and MCP requests.
func (a *app) skillContext(sessionID string) skills.Context {
	return skills.Context{
		AccountID:   a.cfg.Account.ID,
		SessionID:   sessionID,
		Permissions: a.cfg.Account.Permissions,
		Store:       a.accounts,
	}
}

// Close releases stores and remote MCP connections, newest first.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// connectRemoteTools imports the tools of every configured MCP server as
// skills named "<server>_<tool>". Servers are visited in name order so skill
// registration is stable.
func (a *app) connectRemoteTools(ctx context.Context) error {
	names := make([]string, 0, len(a.cfg.MCP.Servers))
	for name := range a.cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		srv := a.cfg.MCP.Servers[name]
		var (
			client *mcp.Client
			err    error
		)
		if srv.Command != "" {
			client, err = mcp.NewClientWithStdio(ctx, srv.Command, srv.Args)
		} else {
			client, err = mcp.NewClientWithStreamableHTTP(ctx, srv.URL)
		}
		if err != nil {
			return fmt.Errorf("connect mcp server %s: %w", name, err)
		}
		a.closers = append(a.closers, client.Close)

		capability := skills.Capability(srv.Capability)
		if capability == "" {
			capability = skills.CapNone
		}
		imported, err := mcp.RegisterTools(ctx, a.registry, client, name+"_", capability)
		if err != nil {
			return fmt.Errorf("import tools from %s: %w", name, err)
		}
		a.remoteMCP = append(a.remoteMCP, imported...)
		a.logger.Info("mcp.server.connected",
			slog.String("server", name),
			slog.Int("tools", len(imported)),
		)
	}
	return nil
}

func newStores(cfg config.MemoryConfig) (memory.ConversationStore, memory.AccountStore, func() error, error) {
	if cfg.Store != "sqlite" {
		return memory.NewInMemoryConversation(), memory.NewInMemoryAccountStore(), func() error { return nil }, nil
	}
	db, err := memory.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	history, err := memory.NewSQLiteConversation(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	accounts, err := memory.NewSQLiteAccountStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return history, accounts, db.Close, nil
}

func newEmbedder(cfg config.RetrievalConfig) (retrieval.Embedder, error) {
	switch cfg.Embedder {
	case "hash":
		return retrieval.NewHashEmbedder(cfg.HashDimension), nil
	case "ollama":
		return ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel), nil
	case "openai":
		opts := []openai.Option{
			openai.WithAPIKey(cfg.EmbedderAPIKey),
			openai.WithBaseURL(cfg.EmbedderBaseURL),
		}
		if cfg.EmbedderModel != "" {
			opts = append(opts, openai.WithModel(cfg.EmbedderModel))
		}
		return openai.NewEmbedder(opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

func newVectorStore(cfg config.RetrievalConfig, embedder retrieval.Embedder, logger *slog.Logger) (retrieval.Store, func() error, error) {
	switch cfg.Store {
	case "embedded":
		store := retrieval.NewEmbeddedStore(embedder,
			retrieval.WithEmbeddedLogger(telemetry.Component(logger, "vectorstore")))
		return store, func() error { return nil }, nil
	case "qdrant":
		store, err := qdrant.New(cfg.QdrantAddr, embedder)
		if err != nil {
			return nil, nil, fmt.Errorf("connect qdrant at %s: %w", cfg.QdrantAddr, err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store %q", cfg.Store)
	}
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	httpClient := llm.NewHTTPClient(cfg.Timeout, cfg.ConnectTimeout)
	switch cfg.Provider {
	case "openai":
		return openai.New(
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithAPIKey(cfg.APIKey),
		), nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, httpClient), nil
	case "mock":
		return llm.EchoProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
