package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mentat-ai/mentat/pkg/memory"
	"github.com/mentat-ai/mentat/pkg/resilience"
	"github.com/mentat-ai/mentat/pkg/retrieval"
	"github.com/mentat-ai/mentat/pkg/skills"
)

func newTestRegistry(t *testing.T, deps Deps) *skills.Registry {
	t.Helper()
	reg := skills.NewRegistry()
	if err := Register(reg, deps); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterOrder(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	want := []string{
		SkillTavilySearch, SkillKnowledgeQuery, SkillKnowledgeUpload, SkillKnowledgeDelete,
		SkillMemoryWrite, SkillMemoryRead, SkillReadFullDocument,
	}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if err := Register(reg, Deps{}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegisterDeclaresParams(t *testing.T) {
	reg := newTestRegistry(t, Deps{})
	tests := []struct {
		skill    string
		required []string
		optional []string
	}{
		{skill: SkillTavilySearch, required: []string{"query"}},
		{skill: SkillKnowledgeQuery, required: []string{"query"}},
		{skill: SkillKnowledgeUpload, required: []string{"title", "text"}, optional: []string{"scope"}},
		{skill: SkillKnowledgeDelete, required: []string{"title"}},
		{skill: SkillMemoryWrite, required: []string{"content"}, optional: []string{"category"}},
		{skill: SkillMemoryRead, optional: []string{"query", "limit"}},
		{skill: SkillReadFullDocument, required: []string{"filename"}},
	}
	for _, tt := range tests {
		t.Run(tt.skill, func(t *testing.T) {
			d, ok := reg.Lookup(tt.skill)
			if !ok {
				t.Fatalf("%s not registered", tt.skill)
			}
			got := map[string]bool{}
			for _, p := range d.Params {
				got[p.Name] = p.Required
			}
			if len(got) != len(tt.required)+len(tt.optional) {
				t.Fatalf("params = %+v", d.Params)
			}
			for _, name := range tt.required {
				if req, ok := got[name]; !ok || !req {
					t.Errorf("%s should be a required param", name)
				}
			}
			for _, name := range tt.optional {
				if req, ok := got[name]; !ok || req {
					t.Errorf("%s should be an optional param", name)
				}
			}
		})
	}
}

func TestTavilySearch(t *testing.T) {
	long := strings.Repeat("x", 250)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tavilyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "golang" || req.SearchDepth != "basic" || req.APIKey != "key" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(tavilyResponse{Results: []SearchResult{
			{Title: "Go", URL: "https://go.dev", Content: long},
			{Title: "Tour", URL: "https://go.dev/tour", Content: "short"},
			{Title: "Blog", URL: "https://go.dev/blog", Content: "posts"},
			{Title: "Extra", URL: "https://example.com", Content: "dropped"},
		}})
	}))
	defer server.Close()

	reg := newTestRegistry(t, Deps{Search: NewTavily("key", WithTavilyURL(server.URL))})
	out := reg.Execute(context.Background(), SkillTavilySearch, map[string]any{"query": "golang"},
		skills.Context{Permissions: skills.Permissions{WebSearchEnabled: true}})

	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 results, got %d: %q", len(lines), out)
	}
	if lines[0] != "[Go](https://go.dev): "+strings.Repeat("x", 200)+"..." {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if lines[1] != "[Tour](https://go.dev/tour): short..." {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestTavilyMissingKey(t *testing.T) {
	sc := skills.Context{Permissions: skills.Permissions{WebSearchEnabled: true}}
	for _, deps := range []Deps{{}, {Search: NewTavily("")}} {
		reg := newTestRegistry(t, deps)
		out := reg.Execute(context.Background(), SkillTavilySearch, map[string]any{"query": "q"}, sc)
		if out != "Error: Tavily API Key not configured." {
			t.Errorf("unexpected output %q", out)
		}
	}
}

func TestTavilyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(tavilyResponse{})
	}))
	defer server.Close()

	retry := resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
	c := NewTavily("key", WithTavilyURL(server.URL), WithTavilyRetry(retry))
	if _, err := c.Search(context.Background(), "q"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestKnowledgeSkills(t *testing.T) {
	ctx := context.Background()
	pipeline := retrieval.NewPipeline(retrieval.NewEmbeddedStore(nil))
	reg := newTestRegistry(t, Deps{Pipeline: pipeline})
	sc := skills.Context{
		AccountID:   "acct",
		SessionID:   "s1",
		Permissions: skills.AllPermissions(),
	}

	out := reg.Execute(ctx, SkillKnowledgeUpload, map[string]any{
		"title": "handbook", "text": "vacation policy is twenty days",
	}, sc)
	if !strings.HasPrefix(out, "Success: Document 'handbook' stored in global knowledge base") {
		t.Fatalf("unexpected upload output %q", out)
	}

	out = reg.Execute(ctx, SkillKnowledgeQuery, map[string]any{"query": "vacation policy"}, sc)
	if !strings.HasPrefix(out, "[Source: handbook (global)]\nvacation policy") {
		t.Errorf("unexpected query output %q", out)
	}

	out = reg.Execute(ctx, SkillKnowledgeDelete, map[string]any{"title": "handbook"}, sc)
	if out != "Deleted global document 'handbook'." {
		t.Errorf("unexpected delete output %q", out)
	}

	out = reg.Execute(ctx, SkillKnowledgeQuery, map[string]any{"query": "vacation policy"}, sc)
	if out != retrieval.NoResultsMessage {
		t.Errorf("expected no results after delete, got %q", out)
	}

	out = reg.Execute(ctx, SkillKnowledgeUpload, map[string]any{"title": "x"}, sc)
	if !strings.HasPrefix(out, "Error executing knowledge_base_upload: ") {
		t.Errorf("expected missing text error, got %q", out)
	}
}

func TestKnowledgeUploadSessionScope(t *testing.T) {
	ctx := context.Background()
	pipeline := retrieval.NewPipeline(retrieval.NewEmbeddedStore(nil))
	reg := newTestRegistry(t, Deps{Pipeline: pipeline})
	perms := skills.AllPermissions()

	reg.Execute(ctx, SkillKnowledgeUpload, map[string]any{
		"title": "notes", "text": "meeting notes about budget", "scope": "session",
	}, skills.Context{AccountID: "acct", SessionID: "s1", Permissions: perms})

	other := reg.Execute(ctx, SkillKnowledgeQuery, map[string]any{"query": "budget"},
		skills.Context{AccountID: "acct", SessionID: "s2", Permissions: perms})
	if other != retrieval.NoResultsMessage {
		t.Errorf("session document leaked to another session: %q", other)
	}
	own := reg.Execute(ctx, SkillKnowledgeQuery, map[string]any{"query": "budget"},
		skills.Context{AccountID: "acct", SessionID: "s1", Permissions: perms})
	if !strings.Contains(own, "[Source: notes (session)]") {
		t.Errorf("expected own session document, got %q", own)
	}
}

func TestMemorySkills(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryAccountStore()
	reg := newTestRegistry(t, Deps{})
	sc := skills.Context{AccountID: "acct", Permissions: skills.Permissions{MemoryEnabled: true}, Store: store}

	if out := reg.Execute(ctx, SkillMemoryRead, nil, sc); out != "No memory found." {
		t.Errorf("unexpected empty read %q", out)
	}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, content := range []string{"likes tea", "lives in Lisbon"} {
		if err := store.Insert(ctx, memory.Record{
			AccountID: "acct", Category: "profile", Content: content, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}
	out := reg.Execute(ctx, SkillMemoryWrite, map[string]any{"content": "prefers short answers"}, sc)
	if out != "Success: Memory saved." {
		t.Fatalf("unexpected write output %q", out)
	}

	out = reg.Execute(ctx, SkillMemoryRead, map[string]any{"limit": json.Number("2")}, sc)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %q", out)
	}
	if !strings.HasSuffix(lines[0], "(general): prefers short answers") {
		t.Errorf("expected newest record first, got %q", lines[0])
	}
	if lines[1] != "[2026-01-02 03:05:05] (profile): lives in Lisbon" {
		t.Errorf("unexpected second record %q", lines[1])
	}

	denied := reg.Execute(ctx, SkillMemoryWrite, map[string]any{"content": "x"}, skills.Context{AccountID: "acct", Store: store})
	if denied != "Error: Permission denied for skill 'account_memory_write'." {
		t.Errorf("unexpected denial %q", denied)
	}
}

func TestReadFullDocument(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	reg := newTestRegistry(t, Deps{UploadDir: root})

	if _, err := SaveDocument(root, "acct", "", "report.txt", []byte("global report")); err != nil {
		t.Fatal(err)
	}
	if _, err := SaveDocument(root, "acct", "s1", "report.txt", []byte("session report")); err != nil {
		t.Fatal(err)
	}
	big := strings.Repeat("a", MaxDocumentChars+10)
	if _, err := SaveDocument(root, "acct", "", "big.txt", []byte(big)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(GlobalDir(root, "acct"), "table.csv"), []byte("name,qty\napple,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		session  string
		filename string
		check    func(string) bool
	}{
		{name: "session first", session: "s1", filename: "report.txt", check: func(s string) bool { return s == "session report" }},
		{name: "global fallback", session: "s2", filename: "report.txt", check: func(s string) bool { return s == "global report" }},
		{name: "missing", session: "s1", filename: "nope.txt", check: func(s string) bool {
			return s == "Error: File 'nope.txt' not found in current session or global knowledge base."
		}},
		{name: "traversal", session: "s1", filename: "../global/report.txt", check: func(s string) bool {
			return strings.HasPrefix(s, "Error: File '../global/report.txt' not found")
		}},
		{name: "truncated", filename: "big.txt", check: func(s string) bool {
			return s == strings.Repeat("a", MaxDocumentChars)+DocumentTruncatedNotice
		}},
		{name: "csv table", filename: "table.csv", check: func(s string) bool {
			return strings.Contains(s, "| name | qty |\n| --- | --- |\n| apple | 3 |")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := reg.Execute(ctx, SkillReadFullDocument, map[string]any{"filename": tt.filename},
				skills.Context{AccountID: "acct", SessionID: tt.session})
			if !tt.check(out) {
				t.Errorf("unexpected output %q", out)
			}
		})
	}
}

func TestRemoveSessionDocuments(t *testing.T) {
	root := t.TempDir()
	path, err := SaveDocument(root, "acct", "s1", "a.txt", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := RemoveSessionDocuments(root, "acct", "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected session file removed, stat err = %v", err)
	}
	if _, err := SaveDocument(root, "acct", "", "../escape.txt", []byte("x")); err == nil {
		t.Error("expected invalid filename error")
	}
}
