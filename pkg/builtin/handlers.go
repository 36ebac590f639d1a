package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mentat-ai/mentat/pkg/memory"
	"github.com/mentat-ai/mentat/pkg/retrieval"
	"github.com/mentat-ai/mentat/pkg/skills"
)

const (
	// MaxSearchResults is the number of web results rendered.
	MaxSearchResults = 3
	// SearchSnippetLen is the number of characters kept per result.
	SearchSnippetLen = 200
	// MemoryTimeLayout renders record timestamps.
	MemoryTimeLayout = "2006-01-02 15:04:05"
)

var (
	errNoPipeline = errors.New("knowledge base is not configured")
	errNoStore    = errors.New("memory store is not configured")
)

type webSearch struct {
	searcher WebSearcher
}

func (h *webSearch) Handle(ctx context.Context, args skills.Args, _ skills.Context) (string, error) {
	if h.searcher == nil {
		return "Error: Tavily API Key not configured.", nil
	}
	if tc, ok := h.searcher.(*TavilyClient); ok && !tc.Configured() {
		return "Error: Tavily API Key not configured.", nil
	}
	query, err := args.String("query")
	if err != nil {
		return "", err
	}
	results, err := h.searcher.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return renderSearch(results), nil
}

func renderSearch(results []SearchResult) string {
	if len(results) > MaxSearchResults {
		results = results[:MaxSearchResults]
	}
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("[%s](%s): %s...", r.Title, r.URL, prefix(r.Content, SearchSnippetLen))
	}
	return strings.Join(lines, "\n")
}

// prefix returns the first n characters of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type knowledgeQuery struct {
	pipeline *retrieval.Pipeline
}

func (h *knowledgeQuery) Handle(ctx context.Context, args skills.Args, sc skills.Context) (string, error) {
	if h.pipeline == nil {
		return "", errNoPipeline
	}
	query, err := args.String("query")
	if err != nil {
		return "", err
	}
	out, err := h.pipeline.Query(ctx, sc.AccountID, sc.SessionID, query)
	if err != nil {
		return fmt.Sprintf("DB Error: %v", err), nil
	}
	return out, nil
}

type knowledgeUpload struct {
	pipeline *retrieval.Pipeline
}

func (h *knowledgeUpload) Handle(ctx context.Context, args skills.Args, sc skills.Context) (string, error) {
	if h.pipeline == nil {
		return "", errNoPipeline
	}
	text, err := args.String("text")
	if err != nil {
		return "", err
	}
	title := args.StringOr("title", "unknown")
	scope := retrieval.Scope(strings.ToLower(args.StringOr("scope", string(retrieval.ScopeGlobal))))
	if scope == retrieval.ScopeSession && sc.SessionID == "" {
		return "", errors.New("session scope requires an active session")
	}
	docID, err := h.pipeline.Ingest(ctx, sc.AccountID, text, title, scope, sc.SessionID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Success: Document '%s' stored in %s knowledge base (id %s).", title, scope, docID), nil
}

type knowledgeDelete struct {
	pipeline *retrieval.Pipeline
}

func (h *knowledgeDelete) Handle(ctx context.Context, args skills.Args, sc skills.Context) (string, error) {
	if h.pipeline == nil {
		return "", errNoPipeline
	}
	title, err := args.String("title")
	if err != nil {
		return "", err
	}
	if err := h.pipeline.DeleteGlobal(ctx, sc.AccountID, title); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted global document '%s'.", title), nil
}

func memoryWrite(ctx context.Context, args skills.Args, sc skills.Context) (string, error) {
	if sc.Store == nil {
		return "", errNoStore
	}
	content, err := args.String("content")
	if err != nil {
		return "", err
	}
	rec := memory.Record{
		AccountID: sc.AccountID,
		Category:  args.StringOr("category", memory.DefaultCategory),
		Content:   content,
	}
	if err := sc.Store.Insert(ctx, rec); err != nil {
		return "", err
	}
	return "Success: Memory saved.", nil
}

func memoryRead(ctx context.Context, args skills.Args, sc skills.Context) (string, error) {
	if sc.Store == nil {
		return "", errNoStore
	}
	limit := args.Int("limit", memory.DefaultRecentLimit)
	if limit <= 0 {
		limit = memory.DefaultRecentLimit
	}
	records, err := sc.Store.Recent(ctx, sc.AccountID, limit)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No memory found.", nil
	}
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = fmt.Sprintf("[%s] (%s): %s", r.CreatedAt.Format(MemoryTimeLayout), r.Category, r.Content)
	}
	return strings.Join(lines, "\n"), nil
}
