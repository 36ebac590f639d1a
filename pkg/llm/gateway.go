package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a whole model round-trip.
	DefaultTimeout = 120 * time.Second
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 60 * time.Second
	// DefaultTemperature is used for regular chat models.
	DefaultTemperature = 0.5
	// ReasonerTemperature is used for reasoning models (names containing
	// "reasoner" or "R1").
	ReasonerTemperature = 0.6
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>...</think> blocks and trims the result.
func StripReasoning(content string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
}

// TemperatureFor returns the sampling temperature used for model.
func TemperatureFor(model string) float64 {
	if strings.Contains(model, "reasoner") || strings.Contains(model, "R1") {
		return ReasonerTemperature
	}
	return DefaultTemperature
}

// NewHTTPClient builds an HTTP client whose dialer gives up after
// connectTimeout and whose requests give up after timeout.
func NewHTTPClient(timeout, connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	return &http.Client{Timeout: timeout, Transport: transport}
}

// ErrEmptyHistory is returned when Complete is called without messages.
var ErrEmptyHistory = errors.New("llm: empty message history")

// Gateway sends whole transcripts to a Provider and returns cleaned text.
type Gateway struct {
	provider    Provider
	model       string
	timeout     time.Duration
	temperature float64
	logger      *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTemperature forces a sampling temperature regardless of model name.
func WithTemperature(t float64) GatewayOption {
	return func(g *Gateway) {
		g.temperature = t
	}
}

// WithGatewayLogger sets the logger used for gateway events.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway for model on top of provider.
func NewGateway(provider Provider, model string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider:    provider,
		model:       model,
		timeout:     DefaultTimeout,
		temperature: TemperatureFor(model),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.model }

// Complete sends messages to the provider and returns the response text with
// reasoning markup removed. An empty completion yields "" and no error.
func (g *Gateway) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", ErrEmptyHistory
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Chat(ctx, ChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "llm.complete.error",
			slog.String("model", g.model),
			slog.Int("messages", len(messages)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("llm complete: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	g.logger.DebugContext(ctx, "llm.complete",
		slog.String("model", g.model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)),
	)
	return StripReasoning(resp.Content), nil
}
