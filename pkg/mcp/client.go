package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mentat-ai/mentat/pkg/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second
	clientName      = "mentat"
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry replaces the retry policy for list and call requests.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client talks to a remote MCP server whose tools are imported as skills.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	cache *toolCache
}

// NewClient wraps an initialized MCP client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry:     resilience.DefaultRetryConfig().WithInitialDelay(200 * time.Millisecond),
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	cl.cache = &toolCache{ttl: cl.cacheTTL}
	return cl
}

// NewClientWithStdio starts command as a subprocess and speaks MCP over its
// stdin/stdout.
func NewClientWithStdio(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, err
	}
	return connect(ctx, c, opts)
}

// NewClientWithStreamableHTTP connects to an MCP server over streamable HTTP.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return connect(ctx, c, opts)
}

// NewInProcessClient connects to an MCP server running in the same process.
func NewInProcessClient(ctx context.Context, srv *server.MCPServer, opts ...ClientOption) (*Client, error) {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, err
	}
	return connect(ctx, c, opts)
}

func connect(ctx context.Context, c *client.Client, opts []ClientOption) (*Client, error) {
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1"}
	if _, err := c.Initialize(initCtx, req); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewClient(c, opts...), nil
}

// ListTools returns the tools offered by the server, cached for the TTL.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cache.get(); cached != nil {
		return cached, nil
	}
	resp, err := resilience.DoWithResult(ctx, c.retry, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.ListTools(reqCtx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	c.cache.put(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return resilience.DoWithResult(ctx, c.retry, func(ctx context.Context) (*mcp.CallToolResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.CallTool(reqCtx, req)
	})
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type toolCache struct {
	ttl time.Duration

	mu      sync.Mutex
	tools   []mcp.Tool
	expires time.Time
}

func (t *toolCache) get() []mcp.Tool {
	if t.ttl == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tools) == 0 || time.Now().After(t.expires) {
		return nil
	}
	out := make([]mcp.Tool, len(t.tools))
	copy(out, t.tools)
	return out
}

func (t *toolCache) put(tools []mcp.Tool) {
	if t.ttl == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tools = make([]mcp.Tool, len(tools))
	copy(t.tools, tools)
	t.expires = time.Now().Add(t.ttl)
}
