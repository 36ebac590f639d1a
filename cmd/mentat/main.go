// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Command mentat runs the skill-augmented agent from the terminal and
// exposes its skills over MCP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mentat-ai/mentat/pkg/config"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const serviceName = "mentat"

type globalFlags struct {
	// ConfigArgs are handed to config.LoadWithCLI unchanged.
	ConfigArgs []string
	ConfigPath string
	Profile    string
	Session    string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global, args, err := parseGlobalFlags(argv)
	if err != nil {
		return NewInvalidArgumentError("flags", err.Error())
	}
	if global.Help || len(args) == 0 {
		printUsage(stdout)
		return nil
	}

	switch args[0] {
	case "help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintf(stdout, "%s %s\n", serviceName, version)
		return nil
	case "chat", "ask", "ingest", "forget", "skills", "mcp":
	default:
		return NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", args[0]))
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		return NewConfigError(err, global.ConfigPath)
	}

	// MCP speaks on stdout, so its logs always go to stderr.
	logger := telemetry.ConfigureSlog(stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig(serviceName, version, cfg.Telemetry.Telemetry())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "chat":
		return runChat(ctx, a, global, stdin, stdout)
	case "ask":
		return runAsk(ctx, a, global, args[1:], stdout)
	case "ingest":
		return runIngest(ctx, a, global, args[1:], stdout)
	case "forget":
		return runForget(ctx, a, global, args[1:], stdout)
	case "skills":
		return runSkills(a, global, stdout)
	default:
		return runMCP(ctx, a, global, logger)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, value, inline := strings.Cut(arg, "=")
		takeValue := func() (string, error) {
			if inline {
				return value, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing value for %s", name)
			}
			i++
			return args[i], nil
		}
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
		case "--config", "--profile", "--env", "--set":
			v, err := takeValue()
			if err != nil {
				return flags, nil, err
			}
			flags.ConfigArgs = append(flags.ConfigArgs, name, v)
			switch name {
			case "--config":
				flags.ConfigPath = v
			case "--profile", "--env":
				flags.Profile = v
			}
		case "--session":
			v, err := takeValue()
			if err != nil {
				return flags, nil, err
			}
			flags.Session = v
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printJSON(w io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Mentat: conversational agent with skills.

Usage:
  mentat [global flags] <command> [args]

Global flags:
  --config <path>      YAML configuration file
  --profile <name>     Layer <config>.<name>.yaml on top (alias --env)
  --set key=value      Override a config key (repeatable)
  --session <id>       Conversation id (default: new id for chat, "cli" otherwise)
  --json               JSON output

Commands:
  chat                             Interactive session on stdin
  ask <question>                   One question, one answer
  ingest <file> [--title T] [--scope global|session]
                                   Add a local file to the knowledge base
  forget --title T                 Delete a global document
  forget                           With --session, delete the session
  skills                           List the skills available to the account
  mcp                              Serve the skills over MCP on stdio
  version`)
}
