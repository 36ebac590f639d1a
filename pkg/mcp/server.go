// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp bridges the skill registry and the Model Context Protocol.
// Server publishes registered skills as MCP tools; Client and ToolAdapter
// import tools from remote MCP servers as skills.
package mcp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mentat-ai/mentat/pkg/skills"
)

// Executor runs a skill by name. *skills.Registry implements it.
type Executor interface {
	Names() []string
	Lookup(name string) (skills.Descriptor, bool)
	Execute(ctx context.Context, name string, args map[string]any, sc skills.Context) string
}

// ContextFunc supplies the account, session and permissions for a tool call.
// It runs once per call so permissions can change while the server runs.
type ContextFunc func(ctx context.Context) skills.Context

// Server exposes a skill registry over MCP.
type Server struct {
	mcpServer *server.MCPServer
	exec      Executor
	contextFn ContextFunc
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server publishing one tool per registered skill,
// in registration order.
func NewServer(name, version string, exec Executor, contextFn ContextFunc, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		exec:      exec,
		contextFn: contextFn,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, skill := range exec.Names() {
		d, ok := exec.Lookup(skill)
		if !ok {
			continue
		}
		s.mcpServer.AddTool(newTool(d), s.handler(d.Name))
	}
	return s
}

// newTool declares the descriptor's params as the tool input schema. A
// descriptor without params gets an open object schema.
func newTool(d skills.Descriptor) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	for _, p := range d.Params {
		props := []mcp.PropertyOption{}
		if p.Description != "" {
			props = append(props, mcp.Description(p.Description))
		}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case skills.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		default:
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	return mcp.NewTool(d.Name, opts...)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		sc := s.contextFn(ctx)
		s.logger.DebugContext(ctx, "mcp.tool.call",
			slog.String("skill", name),
			slog.String("account_id", sc.AccountID),
		)
		out := s.exec.Execute(ctx, name, args, sc)
		if IsErrorText(out) {
			return mcp.NewToolResultError(out), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// IsErrorText reports whether a skill result is one of the registry's
// failure texts.
func IsErrorText(out string) bool {
	return strings.HasPrefix(out, "Error: ") || strings.HasPrefix(out, "Error executing ")
}

// StaticContext returns a ContextFunc that always yields sc.
func StaticContext(sc skills.Context) ContextFunc {
	return func(context.Context) skills.Context { return sc }
}
