// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the turn-bounded think/act loop: the model either
// answers or requests one skill per turn, skill results are fed back into the
// transcript, and the loop ends with a final answer or a forced summary.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/mentat-ai/mentat/pkg/protocol"
	"github.com/mentat-ai/mentat/pkg/skills"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

const (
	// DefaultMaxTurns bounds the number of model round-trips that may
	// request a skill.
	DefaultMaxTurns = 10
	// DefaultResultLimit is the maximum skill result length in characters.
	DefaultResultLimit = 5000
	// DefaultRepeatLimit is how many times an identical call may execute.
	DefaultRepeatLimit = 2

	// FullDocumentSkill applies its own larger cutoff and is not truncated.
	FullDocumentSkill = "read_full_document"

	TruncationSuffix    = "...(truncated)"
	ResultPrefix        = "System Notification: "
	InvalidCallMessage  = "System Error: Invalid JSON format. Please retry."
	ForceFinalMessage   = "You have reached the maximum tool usage limit. STOP calling tools now. Please answer the user's question based on the information you have so far."
	TooComplexMessage   = "The task is too complex: the maximum number of steps was reached before a complete result could be produced."
	ApologyMessage      = "Sorry, an unexpected error occurred while processing your request."
	repeatMessageFormat = "System Notification: The skill '%s' was already called %d times with the same arguments. Do NOT call it again. Answer the user with the information you already have."
	maxAttrLen          = 500
	componentAgent      = "agent"
)

// Outcome describes how a run ended.
type Outcome string

const (
	OutcomeFinal      Outcome = "final"
	OutcomeForced     Outcome = "forced_final"
	OutcomeTooComplex Outcome = "too_complex"
	OutcomeUpstream   Outcome = "upstream_error"
	OutcomeCanceled   Outcome = "canceled"
)

// Completer sends a transcript to the model and returns the cleaned reply.
// *llm.Gateway implements it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Dispatcher lists and executes skills. *skills.Registry implements it.
type Dispatcher interface {
	Describe() string
	Execute(ctx context.Context, name string, args map[string]any, sc skills.Context) string
}

// Result is the detailed outcome of a run.
type Result struct {
	RunID   string
	Answer  string
	Outcome Outcome
	// Turns is the number of consumed turns.
	Turns int
	// Calls is the number of model round-trips, including the forced final one.
	Calls int
	// Transcript holds every fully appended message, system prompt first.
	Transcript []llm.Message
}

// Orchestrator runs the agent loop. It is safe for concurrent use; each run
// owns its transcript.
type Orchestrator struct {
	completer   Completer
	dispatcher  Dispatcher
	model       string
	maxTurns    int
	resultLimit int
	repeatLimit int
	untruncated map[string]bool
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
	emitter     EventEmitter
	metrics     *telemetry.AgentMetrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxTurns overrides the turn bound.
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

// WithResultLimit overrides the skill result truncation length.
func WithResultLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.resultLimit = n
		}
	}
}

// WithRepeatLimit sets how many times an identical call may execute in one
// run. Zero or less disables the check.
func WithRepeatLimit(n int) Option {
	return func(o *Orchestrator) {
		o.repeatLimit = n
	}
}

// WithUntruncatedSkills replaces the set of skills whose results are passed
// through without truncation.
func WithUntruncatedSkills(names ...string) Option {
	return func(o *Orchestrator) {
		o.untruncated = make(map[string]bool, len(names))
		for _, n := range names {
			o.untruncated[n] = true
		}
	}
}

// WithPromptDate fixes the date rendered into the system prompt.
func WithPromptDate(t time.Time) Option {
	return func(o *Orchestrator) {
		o.now = func() time.Time { return t }
	}
}

// WithModel records the model name on spans and logs.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = model
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer for Agent.Run and Agent.Turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithEventEmitter sets the receiver of semantic events.
func WithEventEmitter(e EventEmitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithMetrics sets run and turn metrics.
func WithMetrics(m *telemetry.AgentMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an orchestrator over a model completer and a skill dispatcher.
func New(completer Completer, dispatcher Dispatcher, opts ...Option) (*Orchestrator, error) {
	if completer == nil {
		return nil, NewInvalidInputError("agent completer is required")
	}
	if dispatcher == nil {
		return nil, NewInvalidInputError("agent dispatcher is required")
	}
	o := &Orchestrator{
		completer:   completer,
		dispatcher:  dispatcher,
		maxTurns:    DefaultMaxTurns,
		resultLimit: DefaultResultLimit,
		repeatLimit: DefaultRepeatLimit,
		untruncated: map[string]bool{FullDocumentSkill: true},
		now:         time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("mentat/agent"),
		emitter:     NoopEventEmitter{},
	}
	if g, ok := completer.(interface{ Model() string }); ok {
		o.model = g.Model()
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		if m, err := telemetry.NewAgentMetrics(otel.Meter("mentat/agent")); err == nil {
			o.metrics = m
		}
	}
	return o, nil
}

// MaxTurns returns the configured turn bound.
func (o *Orchestrator) MaxTurns() int { return o.maxTurns }

// Run executes the loop over history (oldest first, without a system
// message) and returns the final answer. Upstream failures return
// ApologyMessage with a nil error; only caller cancellation is an error.
func (o *Orchestrator) Run(ctx context.Context, history []llm.Message, sc skills.Context) (string, error) {
	res, err := o.Execute(ctx, history, sc)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Execute is Run with the detailed result. On cancellation the partial
// result is returned alongside a CodeContextLost error.
func (o *Orchestrator) Execute(ctx context.Context, history []llm.Message, sc skills.Context) (*Result, error) {
	runID := uuid.NewString()
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "Agent.Run",
		trace.WithAttributes(telemetry.RunAttributes(sc.AccountID, sc.SessionID, runID, o.model, o.maxTurns)...),
		trace.WithAttributes(attribute.Int(telemetry.AttrHistory, len(history))),
	)
	defer span.End()

	log := o.logger.With(
		slog.String("run_id", runID),
		slog.String("account_id", sc.AccountID),
		slog.String("session_id", sc.SessionID),
	)
	log.InfoContext(ctx, "agent.run.start", slog.Int("history", len(history)), slog.Int("max_turns", o.maxTurns))

	res := &Result{RunID: runID}
	finish := func(outcome Outcome, answer string) (*Result, error) {
		res.Outcome = outcome
		res.Answer = answer
		span.SetAttributes(
			attribute.String(telemetry.AttrOutcome, string(outcome)),
			attribute.Int(telemetry.AttrTurns, res.Turns),
		)
		o.metrics.RecordRun(ctx, string(outcome), time.Since(start))
		log.InfoContext(ctx, "agent.run.complete",
			slog.String("outcome", string(outcome)),
			slog.Int("turns", res.Turns),
			slog.Int("calls", res.Calls),
			slog.Duration("elapsed", time.Since(start)),
		)
		return res, nil
	}
	canceled := func(cause error) (*Result, error) {
		err := WrapContextError(cause, res.Turns)
		res.Outcome = OutcomeCanceled
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordRun(ctx, string(OutcomeCanceled), time.Since(start))
		GetErrorMetrics().RecordError(ctx, err, componentAgent)
		log.WarnContext(ctx, "agent.run.canceled", slog.Int("turns", res.Turns))
		return res, err
	}
	upstream := func(cause error) (*Result, error) {
		err := WrapUpstreamError(cause, o.model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		GetErrorMetrics().RecordError(ctx, err, componentAgent)
		o.emit(ctx, EventError, runID, sc, res.Turns, map[string]any{"error": err.Error()})
		log.ErrorContext(ctx, "agent.llm.error", slog.Int("turn", res.Turns), slog.String("error", err.Error()))
		return finish(OutcomeUpstream, ApologyMessage)
	}

	repeatLimit := o.repeatLimit
	if repeatLimit <= 0 {
		repeatLimit = DefaultRepeatLimit
	}
	prompt, err := renderSystemPrompt(sc.AccountID, o.dispatcher.Describe(), repeatLimit, o.now())
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "render system prompt", err)
	}
	res.Transcript = make([]llm.Message, 0, len(history)+2*o.maxTurns+2)
	res.Transcript = append(res.Transcript, llm.Message{Role: llm.RoleSystem, Content: prompt})
	res.Transcript = append(res.Transcript, history...)

	executed := make(map[string]int)
	for res.Turns < o.maxTurns {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		reply, err := o.turn(ctx, res, sc, executed, log)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return canceled(ctxErr)
			}
			return upstream(err)
		}
		if reply != nil {
			o.emit(ctx, EventFinal, runID, sc, res.Turns, map[string]any{"answer_chars": utf8.RuneCountInString(*reply)})
			return finish(OutcomeFinal, *reply)
		}
	}

	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	span.AddEvent("agent.max_turns")
	GetErrorMetrics().RecordRecovery(ctx, errors.CodeMaxTurns)
	log.WarnContext(ctx, "agent.run.max_turns", slog.Int("max_turns", o.maxTurns))

	forced := make([]llm.Message, len(res.Transcript), len(res.Transcript)+1)
	copy(forced, res.Transcript)
	forced = append(forced, llm.Message{Role: llm.RoleSystem, Content: ForceFinalMessage})
	res.Calls++
	reply, err := o.completer.Complete(ctx, forced)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return canceled(ctxErr)
		}
		return upstream(err)
	}
	if protocol.ContainsCall(reply) {
		o.emit(ctx, EventFinal, runID, sc, res.Turns, map[string]any{"outcome": string(OutcomeTooComplex)})
		return finish(OutcomeTooComplex, TooComplexMessage)
	}
	res.Transcript = append(forced, llm.Message{Role: llm.RoleAssistant, Content: reply})
	o.emit(ctx, EventFinal, runID, sc, res.Turns, map[string]any{"outcome": string(OutcomeForced)})
	return finish(OutcomeForced, reply)
}

// turn performs one model round-trip. It returns the final answer when the
// reply carries no call; otherwise it appends the feedback message, consumes
// a turn and returns nil.
func (o *Orchestrator) turn(ctx context.Context, res *Result, sc skills.Context, executed map[string]int, log *slog.Logger) (*string, error) {
	index := res.Turns + 1
	ctx, span := o.tracer.Start(ctx, "Agent.Turn", trace.WithAttributes(telemetry.TurnAttributes(index, "")...))
	defer span.End()

	o.emit(ctx, EventThinking, res.RunID, sc, index, nil)
	start := time.Now()
	res.Calls++
	reply, err := o.completer.Complete(ctx, res.Transcript)
	span.SetAttributes(telemetry.LLMAttributes(o.model, len(res.Transcript), float64(time.Since(start).Microseconds())/1000)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.Transcript = append(res.Transcript, llm.Message{Role: llm.RoleAssistant, Content: reply})

	parsed := protocol.Parse(reply)
	span.SetAttributes(attribute.String(telemetry.AttrCallStatus, parsed.Status.String()))
	switch parsed.Status {
	case protocol.NoCall:
		return &reply, nil

	case protocol.Invalid:
		perr := NewParseError(parsed.Err, parsed.Raw)
		GetErrorMetrics().RecordRecovery(ctx, perr.Code)
		log.WarnContext(ctx, "agent.turn.invalid_call", slog.Int("turn", index), slog.String("error", perr.Error()))
		res.Transcript = append(res.Transcript, llm.Message{Role: llm.RoleUser, Content: InvalidCallMessage})

	case protocol.Valid:
		call := parsed.Call
		key := call.Fingerprint()
		if o.repeatLimit > 0 && executed[key] >= o.repeatLimit {
			span.SetAttributes(attribute.Bool(telemetry.AttrRepeated, true))
			log.WarnContext(ctx, "agent.turn.repeat_refused",
				slog.Int("turn", index),
				slog.String("skill", call.Name),
				slog.Int("executions", executed[key]),
			)
			res.Transcript = append(res.Transcript, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf(repeatMessageFormat, call.Name, executed[key]),
			})
			break
		}
		executed[key]++

		log.InfoContext(ctx, "agent.turn.skill_call", slog.Int("turn", index), slog.String("skill", call.Name))
		o.emit(ctx, EventSkillCalled, res.RunID, sc, index, map[string]any{"skill": call.Name, "args": call.Args})
		result := o.dispatcher.Execute(ctx, call.Name, call.Args, sc)
		result, truncated := o.truncate(call.Name, result)

		argsJSON, _ := json.Marshal(call.Args)
		span.SetAttributes(telemetry.SkillCallAttributes(call.Name, string(argsJSON), result, maxAttrLen, truncated)...)
		res.Transcript = append(res.Transcript, llm.Message{
			Role:    llm.RoleUser,
			Content: ResultPrefix + protocol.WrapResult(result),
		})
	}

	res.Turns++
	o.metrics.RecordTurn(ctx, parsed.Status.String())
	return nil, nil
}

// truncate caps result at the configured limit unless the skill is exempt.
func (o *Orchestrator) truncate(skill, result string) (string, bool) {
	if o.untruncated[skill] || utf8.RuneCountInString(result) <= o.resultLimit {
		return result, false
	}
	return string([]rune(result)[:o.resultLimit]) + TruncationSuffix, true
}

func (o *Orchestrator) emit(ctx context.Context, t EventType, runID string, sc skills.Context, turn int, payload map[string]any) {
	o.emitter.Emit(ctx, Event{
		Type:      t,
		RunID:     runID,
		AccountID: sc.AccountID,
		SessionID: sc.SessionID,
		Turn:      turn,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}
