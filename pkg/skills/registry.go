// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills holds the skill registry: named, permission-gated handlers
// the model can invoke. Registration happens once at startup; afterwards the
// registry is read-only and safe for concurrent use without locks.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/memory"
	"github.com/mentat-ai/mentat/pkg/resilience"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

// Capability names the permission a skill requires.
type Capability string

const (
	CapNone           Capability = "none"
	CapWebSearch      Capability = "web_search"
	CapKnowledgeRead  Capability = "knowledge_read"
	CapKnowledgeWrite Capability = "knowledge_write"
	CapMemory         Capability = "memory"
)

// Permissions are the per-request capability flags.
type Permissions struct {
	KnowledgeBaseEnabled      bool `json:"knowledgeBaseEnabled" koanf:"knowledge_base_enabled"`
	KnowledgeBaseWriteEnabled bool `json:"knowledgeBaseWriteEnabled" koanf:"knowledge_base_write_enabled"`
	WebSearchEnabled          bool `json:"webSearchEnabled" koanf:"web_search_enabled"`
	MemoryEnabled             bool `json:"memoryEnabled" koanf:"memory_enabled"`
}

// AllPermissions grants every capability.
func AllPermissions() Permissions {
	return Permissions{
		KnowledgeBaseEnabled:      true,
		KnowledgeBaseWriteEnabled: true,
		WebSearchEnabled:          true,
		MemoryEnabled:             true,
	}
}

// Allows reports whether the permissions grant c.
func (p Permissions) Allows(c Capability) bool {
	switch c {
	case CapNone:
		return true
	case CapWebSearch:
		return p.WebSearchEnabled
	case CapKnowledgeRead:
		return p.KnowledgeBaseEnabled
	case CapKnowledgeWrite:
		return p.KnowledgeBaseWriteEnabled
	case CapMemory:
		return p.MemoryEnabled
	default:
		return false
	}
}

func knownCapability(c Capability) bool {
	switch c {
	case CapNone, CapWebSearch, CapKnowledgeRead, CapKnowledgeWrite, CapMemory:
		return true
	}
	return false
}

// Context is built per request and passed to every handler.
type Context struct {
	AccountID   string
	SessionID   string
	Permissions Permissions
	Store       memory.AccountStore
}

// Handler executes a skill. Returned errors become "Error executing" text;
// they never abort the agent loop.
type Handler interface {
	Handle(ctx context.Context, args Args, sc Context) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args Args, sc Context) (string, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, args Args, sc Context) (string, error) {
	return f(ctx, args, sc)
}

// ParamType is the JSON type of a skill argument.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
)

// Param declares one argument a skill reads. Params only describe the
// arguments for schema-aware callers; handlers still validate their input.
type Param struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
}

// Descriptor registers a skill.
type Descriptor struct {
	Name        string
	Description string
	Capability  Capability
	Handler     Handler
	// Params is optional. Skills imported from remote tools leave it empty.
	Params []Param
}

// Registry maps skill names to descriptors.
type Registry struct {
	order       []string
	skills      map[string]Descriptor
	overrides   map[string]Override
	timeout     time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	calls       metric.Int64Counter
	durationsMs metric.Float64Histogram
}

// Option configures a Registry.
type Option func(*Registry)

// WithOverrides replaces descriptions of skills registered afterwards.
func WithOverrides(overrides map[string]Override) Option {
	return func(r *Registry) {
		r.overrides = overrides
	}
}

// WithTimeout bounds every handler invocation.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer for Skill.Execute spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMeter sets the meter for skill metrics.
func WithMeter(m metric.Meter) Option {
	return func(r *Registry) {
		if m != nil {
			r.initMetrics(m)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		skills: make(map[string]Descriptor),
		logger: slog.Default(),
		tracer: otel.Tracer("mentat/skills"),
	}
	r.initMetrics(otel.Meter("mentat/skills"))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) initMetrics(m metric.Meter) {
	calls, err := m.Int64Counter("mentat.skills.calls",
		metric.WithDescription("Skill invocations by skill and outcome"))
	if err != nil {
		calls, _ = noop.Meter{}.Int64Counter("mentat.skills.calls")
	}
	durations, err := m.Float64Histogram("mentat.skills.latency_ms",
		metric.WithDescription("Skill handler latency in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		durations, _ = noop.Meter{}.Float64Histogram("mentat.skills.latency_ms")
	}
	r.calls = calls
	r.durationsMs = durations
}

// Register adds a skill. Empty names, nil handlers, unknown capabilities and
// duplicate names are rejected.
func (r *Registry) Register(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return errors.New(errors.CodeInvalidInput, "skill name is required", nil)
	}
	if d.Handler == nil {
		return errors.New(errors.CodeInvalidInput, "skill handler is required", nil).
			WithContext("skill", d.Name)
	}
	if d.Capability == "" {
		d.Capability = CapNone
	}
	if !knownCapability(d.Capability) {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown capability %q", d.Capability), nil).
			WithContext("skill", d.Name)
	}
	if _, dup := r.skills[d.Name]; dup {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("skill %q already registered", d.Name), nil).
			WithContext("skill", d.Name)
	}
	if ov, ok := r.overrides[d.Name]; ok && ov.Description != "" {
		d.Description = ov.Description
	}
	r.skills[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.skills[name]
	return d, ok
}

// Names returns skill names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Describe renders one "- <name>: <description>" line per skill in
// registration order.
func (r *Registry) Describe() string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.skills[name].Description))
	}
	return strings.Join(lines, "\n")
}

// Execute runs a skill and always returns text for the transcript. Unknown
// skills and denied capabilities never reach a handler; handler errors and
// panics are converted to "Error executing" text.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, sc Context) string {
	ctx, span := r.tracer.Start(ctx, "Skill.Execute", trace.WithAttributes(
		attribute.String(telemetry.AttrSkillName, name),
		attribute.String(telemetry.AttrAccountID, sc.AccountID),
		attribute.String(telemetry.AttrSessionID, sc.SessionID),
	))
	defer span.End()

	d, ok := r.skills[name]
	if !ok {
		r.record(ctx, name, "not_found", 0)
		span.SetStatus(codes.Error, "skill not found")
		r.logger.WarnContext(ctx, "skills.execute.not_found", slog.String("skill", name))
		return fmt.Sprintf("Error: Skill '%s' not found.", name)
	}
	if !sc.Permissions.Allows(d.Capability) {
		r.record(ctx, name, "denied", 0)
		span.SetStatus(codes.Error, "permission denied")
		r.logger.WarnContext(ctx, "skills.execute.denied",
			slog.String("skill", name),
			slog.String("capability", string(d.Capability)),
			slog.String("account_id", sc.AccountID),
		)
		return fmt.Sprintf("Error: Permission denied for skill '%s'.", name)
	}

	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	out, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: r.timeout},
		func(ctx context.Context) (string, error) {
			return r.invoke(ctx, d, Args(args), sc)
		})
	elapsed := time.Since(start)

	if err != nil {
		r.record(ctx, name, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.ErrorContext(ctx, "skills.execute.error",
			slog.String("skill", name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return fmt.Sprintf("Error executing %s: %s", name, err.Error())
	}

	r.record(ctx, name, "ok", elapsed)
	span.SetAttributes(attribute.Int(telemetry.AttrSkillChars, utf8.RuneCountInString(out)))
	r.logger.InfoContext(ctx, "skills.execute.complete",
		slog.String("skill", name),
		slog.Int("result_len", len(out)),
		slog.Duration("elapsed", elapsed),
	)
	return out
}

func (r *Registry) invoke(ctx context.Context, d Descriptor, args Args, sc Context) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New(errors.CodeSkillFailure, fmt.Sprintf("panic: %v", rec), nil)
		}
	}()
	return d.Handler.Handle(ctx, args, sc)
}

func (r *Registry) record(ctx context.Context, name, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("skill", name),
		attribute.String("outcome", outcome),
	)
	r.calls.Add(ctx, 1, attrs)
	if elapsed > 0 {
		r.durationsMs.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}
