package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mentat-ai/mentat/pkg/skills"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolLister lists tools and calls them. *Client implements it.
type ToolLister interface {
	ToolCaller
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// ToolAdapter runs a remote MCP tool as a skill handler.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
}

// NewToolAdapter builds a skill handler backed by an MCP tool definition.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	return &ToolAdapter{tool: tool, caller: caller}, nil
}

// Name returns the MCP tool name.
func (t *ToolAdapter) Name() string {
	return t.tool.Name
}

// Handle implements skills.Handler.
func (t *ToolAdapter) Handle(ctx context.Context, args skills.Args, _ skills.Context) (string, error) {
	call := map[string]any(args)
	if call == nil {
		call = map[string]any{}
	}
	if err := validateRequiredArgs(t.tool, call); err != nil {
		return "", err
	}
	result, err := t.caller.CallTool(ctx, t.tool.Name, call)
	if err != nil {
		return "", err
	}
	return toolResultToText(result)
}

// Descriptor renders the adapter as a skill. The description lists the
// tool's arguments so the model can fill them without a JSON schema.
func (t *ToolAdapter) Descriptor(name string, capability skills.Capability) skills.Descriptor {
	if name == "" {
		name = t.tool.Name
	}
	return skills.Descriptor{
		Name:        name,
		Description: describeTool(t.tool),
		Capability:  capability,
		Handler:     t,
	}
}

// RegisterTools imports every tool offered by lister into reg. Skill names
// are prefix + tool name; an empty prefix keeps the tool names.
func RegisterTools(ctx context.Context, reg *skills.Registry, lister ToolLister, prefix string, capability skills.Capability) ([]string, error) {
	tools, err := lister.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		adapter, err := NewToolAdapter(tool, lister)
		if err != nil {
			return names, err
		}
		d := adapter.Descriptor(prefix+tool.Name, capability)
		if err := reg.Register(d); err != nil {
			return names, err
		}
		names = append(names, d.Name)
	}
	return names, nil
}

func describeTool(tool mcp.Tool) string {
	desc := strings.TrimSpace(tool.Description)
	if desc == "" {
		desc = "Remote tool " + tool.Name + "."
	}
	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return desc
	}
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, r := range tool.InputSchema.Required {
		required[r] = true
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if required[k] {
			parts = append(parts, k+" (required)")
		} else {
			parts = append(parts, k)
		}
	}
	return desc + " Args: " + strings.Join(parts, ", ") + "."
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument '%s'", key)
		}
	}
	return nil
}

func toolResultToText(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", errors.New("mcp tool result is nil")
	}
	text := extractTextContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("mcp tool returned error: %s", text)
	}
	return text, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ skills.Handler = (*ToolAdapter)(nil)
