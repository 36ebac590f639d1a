package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/mentat-ai/mentat/pkg/protocol"
	"github.com/mentat-ai/mentat/pkg/skills"
)

var promptDate = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type spySkill struct {
	mu     sync.Mutex
	calls  int
	result string
	args   []skills.Args
}

func (s *spySkill) Handle(_ context.Context, args skills.Args, _ skills.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.args = append(s.args, args)
	return s.result, nil
}

func (s *spySkill) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newRegistry(t *testing.T, descs ...skills.Descriptor) *skills.Registry {
	t.Helper()
	reg := skills.NewRegistry(skills.WithLogger(quietLogger()))
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	return reg
}

func newOrchestrator(t *testing.T, provider llm.Provider, reg *skills.Registry, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithPromptDate(promptDate)}
	o, err := New(llm.NewGateway(provider, "test-model", llm.WithGatewayLogger(quietLogger())), reg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func userHistory(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func allowAll() skills.Context {
	return skills.Context{AccountID: "acct-1", SessionID: "sess-1", Permissions: skills.AllPermissions()}
}

func TestNewRequiresDependencies(t *testing.T) {
	reg := newRegistry(t)
	if _, err := New(nil, reg); err == nil {
		t.Fatal("expected error for nil completer")
	}
	gw := llm.NewGateway(llm.NewScriptedMockProvider(), "m")
	if _, err := New(gw, nil); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
	o, err := New(gw, reg, WithMaxTurns(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.MaxTurns() != DefaultMaxTurns {
		t.Fatalf("MaxTurns = %d, want %d", o.MaxTurns(), DefaultMaxTurns)
	}
}

func TestRunAnswerWithoutCall(t *testing.T) {
	provider := llm.NewScriptedMockProvider("Paris is the capital of France.")
	reg := newRegistry(t, skills.Descriptor{
		Name:        "lookup",
		Description: "Looks things up.",
		Handler:     &spySkill{result: "unused"},
	})
	o := newOrchestrator(t, provider, reg)

	res, err := o.Execute(context.Background(), userHistory("capital of France?"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Answer != "Paris is the capital of France." {
		t.Fatalf("Answer = %q", res.Answer)
	}
	if res.Outcome != OutcomeFinal || res.Turns != 0 || res.Calls != 1 {
		t.Fatalf("outcome=%s turns=%d calls=%d", res.Outcome, res.Turns, res.Calls)
	}
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}

	req := provider.LastRequest()
	if len(req.Messages) != 2 {
		t.Fatalf("request messages = %d, want 2", len(req.Messages))
	}
	system := req.Messages[0]
	if system.Role != llm.RoleSystem {
		t.Fatalf("first role = %s", system.Role)
	}
	for _, want := range []string{"acct-1", "- lookup: Looks things up.", "Current Date: 2026-03-01", "more than **2 times**"} {
		if !strings.Contains(system.Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if req.Messages[1].Content != "capital of France?" {
		t.Fatalf("history not forwarded: %+v", req.Messages[1])
	}
}

func TestRunExecutesSkillAndFeedsResult(t *testing.T) {
	spy := &spySkill{result: "42 units"}
	provider := llm.NewScriptedMockProvider(
		`Let me check. <SKILL_CALL>{"name": "sales", "args": {"quarter": "Q1"}}</SKILL_CALL>`,
		"Q1 sales were 42 units.",
	)
	o := newOrchestrator(t, provider, newRegistry(t, skills.Descriptor{Name: "sales", Description: "Sales data.", Handler: spy}))

	res, err := o.Execute(context.Background(), userHistory("Q1 sales?"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Answer != "Q1 sales were 42 units." || res.Turns != 1 || res.Calls != 2 {
		t.Fatalf("answer=%q turns=%d calls=%d", res.Answer, res.Turns, res.Calls)
	}
	if spy.count() != 1 || spy.args[0]["quarter"] != "Q1" {
		t.Fatalf("spy calls=%d args=%v", spy.count(), spy.args)
	}

	msgs := provider.LastRequest().Messages
	last := msgs[len(msgs)-1]
	want := ResultPrefix + protocol.WrapResult("42 units")
	if last.Role != llm.RoleUser || last.Content != want {
		t.Fatalf("feedback = %+v, want user %q", last, want)
	}
	if msgs[len(msgs)-2].Role != llm.RoleAssistant {
		t.Fatalf("model reply not appended before feedback")
	}
	if len(res.Transcript) != 5 {
		t.Fatalf("transcript length = %d, want 5", len(res.Transcript))
	}
}

func TestRunInvalidCallConsumesTurns(t *testing.T) {
	bad := `<SKILL_CALL>{"name": "sales", "args": </SKILL_CALL>`
	replies := make([]string, DefaultMaxTurns+1)
	for i := range replies {
		replies[i] = bad
	}
	provider := llm.NewScriptedMockProvider(replies...)
	o := newOrchestrator(t, provider, newRegistry(t))

	res, err := o.Execute(context.Background(), userHistory("hi"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.Calls() != DefaultMaxTurns+1 {
		t.Fatalf("provider calls = %d, want %d", provider.Calls(), DefaultMaxTurns+1)
	}
	if res.Outcome != OutcomeTooComplex || res.Answer != TooComplexMessage {
		t.Fatalf("outcome=%s answer=%q", res.Outcome, res.Answer)
	}
	if res.Turns != DefaultMaxTurns {
		t.Fatalf("turns = %d", res.Turns)
	}

	first := provider.Requests[1].Messages
	if got := first[len(first)-1]; got.Role != llm.RoleUser || got.Content != InvalidCallMessage {
		t.Fatalf("feedback after invalid call = %+v", got)
	}
}

func TestRunForcedFinal(t *testing.T) {
	spy := &spySkill{result: "partial"}
	provider := llm.NewScriptedMockProvider(
		`<SKILL_CALL>{"name": "search", "args": {"q": "a"}}</SKILL_CALL>`,
		`<SKILL_CALL>{"name": "search", "args": {"q": "b"}}</SKILL_CALL>`,
		"Here is what I found so far.",
	)
	o := newOrchestrator(t, provider, newRegistry(t, skills.Descriptor{Name: "search", Description: "s", Handler: spy}), WithMaxTurns(2))

	res, err := o.Execute(context.Background(), userHistory("find"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Outcome != OutcomeForced || res.Answer != "Here is what I found so far." {
		t.Fatalf("outcome=%s answer=%q", res.Outcome, res.Answer)
	}
	if spy.count() != 2 || res.Calls != 3 {
		t.Fatalf("spy=%d calls=%d", spy.count(), res.Calls)
	}
	msgs := provider.LastRequest().Messages
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleSystem || last.Content != ForceFinalMessage {
		t.Fatalf("forced-final instruction = %+v", last)
	}
	if final := res.Transcript[len(res.Transcript)-1]; final.Content != res.Answer {
		t.Fatalf("forced answer not recorded in transcript")
	}
}

func TestRunTruncation(t *testing.T) {
	long := strings.Repeat("x", DefaultResultLimit+1000)
	tests := []struct {
		name  string
		skill string
		want  string
	}{
		{name: "truncated", skill: "dump", want: strings.Repeat("x", DefaultResultLimit) + TruncationSuffix},
		{name: "exempt", skill: FullDocumentSkill, want: long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := llm.NewScriptedMockProvider(
				fmt.Sprintf(`<SKILL_CALL>{"name": %q, "args": {}}</SKILL_CALL>`, tt.skill),
				"done",
			)
			reg := newRegistry(t, skills.Descriptor{Name: tt.skill, Description: "d", Handler: &spySkill{result: long}})
			o := newOrchestrator(t, provider, reg)
			if _, err := o.Run(context.Background(), userHistory("go"), allowAll()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			msgs := provider.LastRequest().Messages
			got := msgs[len(msgs)-1].Content
			if want := ResultPrefix + protocol.WrapResult(tt.want); got != want {
				t.Fatalf("feedback length = %d, want %d", len(got), len(want))
			}
		})
	}
}

func TestRunTruncationCountsRunes(t *testing.T) {
	result := strings.Repeat("数", 12)
	provider := llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "cn", "args": {}}</SKILL_CALL>`, "ok")
	reg := newRegistry(t, skills.Descriptor{Name: "cn", Description: "d", Handler: &spySkill{result: result}})
	o := newOrchestrator(t, provider, reg, WithResultLimit(10))
	if _, err := o.Run(context.Background(), userHistory("go"), allowAll()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := provider.LastRequest().Messages
	want := ResultPrefix + protocol.WrapResult(strings.Repeat("数", 10)+TruncationSuffix)
	if got := msgs[len(msgs)-1].Content; got != want {
		t.Fatalf("feedback = %q, want %q", got, want)
	}
}

func TestRunRefusesRepeatedCalls(t *testing.T) {
	call := `<SKILL_CALL>{"name": "kb", "args": {"query": "revenue"}}</SKILL_CALL>`
	spy := &spySkill{result: "No relevant info found."}
	provider := llm.NewScriptedMockProvider(call, call, call, "Nothing was found.")
	o := newOrchestrator(t, provider, newRegistry(t, skills.Descriptor{Name: "kb", Description: "d", Handler: spy}))

	res, err := o.Execute(context.Background(), userHistory("revenue?"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if spy.count() != DefaultRepeatLimit {
		t.Fatalf("executions = %d, want %d", spy.count(), DefaultRepeatLimit)
	}
	if res.Turns != 3 || res.Answer != "Nothing was found." {
		t.Fatalf("turns=%d answer=%q", res.Turns, res.Answer)
	}
	msgs := provider.LastRequest().Messages
	notice := msgs[len(msgs)-1]
	if notice.Role != llm.RoleUser || !strings.Contains(notice.Content, "already called 2 times") {
		t.Fatalf("repeat notice = %+v", notice)
	}
}

func TestRunRepeatCheckDisabled(t *testing.T) {
	call := `<SKILL_CALL>{"name": "kb", "args": {"query": "revenue"}}</SKILL_CALL>`
	spy := &spySkill{result: "r"}
	provider := llm.NewScriptedMockProvider(call, call, call, "done")
	o := newOrchestrator(t, provider, newRegistry(t, skills.Descriptor{Name: "kb", Description: "d", Handler: spy}), WithRepeatLimit(0))
	if _, err := o.Run(context.Background(), userHistory("x"), allowAll()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if spy.count() != 3 {
		t.Fatalf("executions = %d, want 3", spy.count())
	}
}

func TestRunPermissionDenied(t *testing.T) {
	spy := &spySkill{result: "web results"}
	provider := llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "web", "args": {"query": "x"}}</SKILL_CALL>`, "I cannot search.")
	reg := newRegistry(t, skills.Descriptor{Name: "web", Description: "d", Capability: skills.CapWebSearch, Handler: spy})
	o := newOrchestrator(t, provider, reg)

	sc := skills.Context{AccountID: "acct-1", SessionID: "s"}
	if _, err := o.Run(context.Background(), userHistory("search"), sc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if spy.count() != 0 {
		t.Fatalf("denied skill executed %d times", spy.count())
	}
	msgs := provider.LastRequest().Messages
	if got := msgs[len(msgs)-1].Content; !strings.Contains(got, "Error: Permission denied for skill 'web'.") {
		t.Fatalf("feedback = %q", got)
	}
}

func TestRunUnknownSkill(t *testing.T) {
	provider := llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "nope", "args": {}}</SKILL_CALL>`, "ok")
	o := newOrchestrator(t, provider, newRegistry(t))
	if _, err := o.Run(context.Background(), userHistory("x"), allowAll()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := provider.LastRequest().Messages
	if got := msgs[len(msgs)-1].Content; !strings.Contains(got, "Error: Skill 'nope' not found.") {
		t.Fatalf("feedback = %q", got)
	}
}

func TestRunUpstreamFailureApologizes(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
	}{
		{name: "provider error", provider: &llm.FailingMockProvider{Err: stderrors.New("connection refused")}},
		{name: "script exhausted", provider: llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "kb", "args": {}}</SKILL_CALL>`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			reg := newRegistry(t, skills.Descriptor{Name: "kb", Description: "d", Handler: &spySkill{result: "r"}})
			o := newOrchestrator(t, tt.provider, reg, WithEventEmitter(rec))
			res, err := o.Execute(context.Background(), userHistory("x"), allowAll())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Answer != ApologyMessage || res.Outcome != OutcomeUpstream {
				t.Fatalf("outcome=%s answer=%q", res.Outcome, res.Answer)
			}
			types := rec.types()
			if types[len(types)-1] != EventError {
				t.Fatalf("last event = %s, want %s", types[len(types)-1], EventError)
			}
		})
	}
}

func TestRunCanceledBeforeStart(t *testing.T) {
	provider := llm.NewScriptedMockProvider("never")
	o := newOrchestrator(t, provider, newRegistry(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := o.Run(ctx, userHistory("x"), allowAll())
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("error = %v, want %s", err, errors.CodeContextLost)
	}
	if answer != "" || provider.Calls() != 0 {
		t.Fatalf("answer=%q calls=%d", answer, provider.Calls())
	}
}

func TestRunCanceledBetweenTurns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := skills.HandlerFunc(func(context.Context, skills.Args, skills.Context) (string, error) {
		cancel()
		return "ok", nil
	})
	provider := llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "stop", "args": {}}</SKILL_CALL>`, "unreachable")
	o := newOrchestrator(t, provider, newRegistry(t, skills.Descriptor{Name: "stop", Description: "d", Handler: handler}))

	res, err := o.Execute(ctx, userHistory("x"), allowAll())
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("error = %v", err)
	}
	if res == nil || res.Outcome != OutcomeCanceled || res.Turns != 1 {
		t.Fatalf("partial result = %+v", res)
	}
	if provider.Calls() != 1 {
		t.Fatalf("provider calls = %d, want 1", provider.Calls())
	}
}

func TestRunEmitsEvents(t *testing.T) {
	rec := &recorder{}
	provider := llm.NewScriptedMockProvider(`<SKILL_CALL>{"name": "kb", "args": {"query": "q"}}</SKILL_CALL>`, "answer")
	reg := newRegistry(t, skills.Descriptor{Name: "kb", Description: "d", Handler: &spySkill{result: "r"}})
	o := newOrchestrator(t, provider, reg, WithEventEmitter(rec))

	res, err := o.Execute(context.Background(), userHistory("x"), allowAll())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []EventType{EventThinking, EventSkillCalled, EventThinking, EventFinal}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	for _, e := range rec.events {
		if e.RunID != res.RunID || e.AccountID != "acct-1" || e.SessionID != "sess-1" {
			t.Fatalf("event identity = %+v", e)
		}
	}
	if rec.events[1].Payload["skill"] != "kb" {
		t.Fatalf("skill event payload = %v", rec.events[1].Payload)
	}
}

func TestRunConcurrentRunsAreIsolated(t *testing.T) {
	reg := newRegistry(t)
	o, err := New(echoCompleter{}, reg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("message %d", i)
			got, err := o.Run(context.Background(), userHistory(msg), allowAll())
			if err != nil {
				errs <- err
				return
			}
			if got != msg {
				errs <- fmt.Errorf("run %d answered %q", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// echoCompleter answers with the last user message.
type echoCompleter struct{}

func (echoCompleter) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	return msgs[len(msgs)-1].Content, nil
}
