package main

import (
	"context"
	"log/slog"

	"github.com/mentat-ai/mentat/pkg/config"
	"github.com/mentat-ai/mentat/pkg/mcp"
	"github.com/mentat-ai/mentat/pkg/skills"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

const mcpSession = "mcp"

// runMCP serves the registry on stdio. With --config the file is watched and
// account permission changes apply to the next tool call without a restart.
func runMCP(ctx context.Context, a *app, global globalFlags, logger *slog.Logger) error {
	live := config.NewReloadableConfig(a.cfg)
	if global.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, global.ConfigPath,
			config.WithWatchProfile(global.Profile),
			config.WithWatchLogger(telemetry.Component(logger, "config")),
		)
		if err != nil {
			return err
		}
		defer watcher.Stop()
		watcher.OnChange(live.Update)
	}

	sessionID := sessionOrDefault(global, mcpSession)
	contextFn := func(context.Context) skills.Context {
		account := live.Account()
		return skills.Context{
			AccountID:   account.ID,
			SessionID:   sessionID,
			Permissions: account.Permissions,
			Store:       a.accounts,
		}
	}

	srv := mcp.NewServer(serviceName, version, a.registry, contextFn,
		mcp.WithServerLogger(telemetry.Component(logger, "mcp")))
	logger.Info("mcp.server.start",
		slog.String("account_id", a.cfg.Account.ID),
		slog.Int("tools", len(a.registry.Names())),
	)
	return srv.ServeStdio()
}
