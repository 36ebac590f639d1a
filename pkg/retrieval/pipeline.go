// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieval implements the knowledge-base pipeline: documents are
// split into fixed-size chunks, stored with scope metadata in one collection
// per account, and queried with a scope filter so that a session sees the
// account's global documents plus its own session documents.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

const (
	// DefaultTopK is the number of chunks returned by Query.
	DefaultTopK = 10

	// NoResultsMessage is returned by Query when nothing matches.
	NoResultsMessage = "System Notification: No relevant info found in Knowledge Base."

	// ResultSeparator joins rendered matches.
	ResultSeparator = "\n---\n"
)

// CollectionName returns the per-account collection name.
func CollectionName(accountID string) string {
	return "kb_" + accountID
}

// Pipeline ingests, queries and deletes scoped documents.
type Pipeline struct {
	store     Store
	chunkSize int
	topK      int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkSize overrides the chunk size in characters.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithTopK overrides the number of results returned by Query.
func WithTopK(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.topK = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewPipeline creates a pipeline on top of store.
func NewPipeline(store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		chunkSize: DefaultChunkSize,
		topK:      DefaultTopK,
		logger:    slog.Default(),
		tracer:    otel.Tracer("mentat/retrieval"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest splits text into chunks and stores them in the account collection
// with identical metadata. It returns the new document id, or "" when text is
// empty. Global documents are stored with session id NoSession.
func (p *Pipeline) Ingest(ctx context.Context, accountID, text, title string, scope Scope, sessionID string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "Retrieval.Ingest",
		trace.WithAttributes(attribute.String(telemetry.AttrAccountID, accountID)),
		trace.WithAttributes(telemetry.DocumentAttributes(title, string(scope), 0)...),
	)
	defer span.End()

	switch scope {
	case ScopeGlobal:
		sessionID = NoSession
	case ScopeSession:
		if sessionID == "" {
			err := errors.New(errors.CodeInvalidInput, "session scope requires a session id", nil)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	default:
		err := errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown scope %q", scope), nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if title == "" {
		title = "unknown"
	}
	// Split works on runes, so invalid bytes would not survive chunking.
	if !utf8.ValidString(text) {
		err := errors.New(errors.CodeInvalidInput, "document text is not valid UTF-8", nil).
			WithContext("title", title)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	pieces := Split(text, p.chunkSize)
	if len(pieces) == 0 {
		return "", nil
	}

	docID := uuid.NewString()
	meta := Metadata{Title: title, Scope: scope, SessionID: sessionID, AccountID: accountID}
	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{ID: fmt.Sprintf("%s_%d", docID, i), Text: piece, Metadata: meta}
	}

	coll, err := p.store.Collection(ctx, CollectionName(accountID))
	if err == nil {
		err = coll.Add(ctx, chunks)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", errors.New(errors.CodeRetrievalError, "ingest document", err).
			WithContext("account_id", accountID).
			WithContext("title", title)
	}

	span.SetAttributes(attribute.String("mentat.document.id", docID), attribute.Int(telemetry.AttrChunks, len(chunks)))
	p.logger.InfoContext(ctx, "retrieval.ingest.complete",
		slog.String("account_id", accountID),
		slog.String("document_id", docID),
		slog.String("title", title),
		slog.String("scope", string(scope)),
		slog.Int("chunks", len(chunks)),
	)
	return docID, nil
}

// ScopeFilter returns the visibility filter for a session: global documents
// plus, when sessionID is set, documents of that session.
func ScopeFilter(sessionID string) Filter {
	if sessionID == "" {
		return Filter{Must: []Condition{Eq(KeyScope, string(ScopeGlobal))}}
	}
	return Filter{Should: []Condition{
		Eq(KeyScope, string(ScopeGlobal)),
		Eq(KeySessionID, sessionID),
	}}
}

// Search returns the raw matches visible to the session.
func (p *Pipeline) Search(ctx context.Context, accountID, sessionID, query string) ([]Match, error) {
	ctx, span := p.tracer.Start(ctx, "Retrieval.Query", trace.WithAttributes(
		attribute.String(telemetry.AttrAccountID, accountID),
		attribute.String(telemetry.AttrSessionID, sessionID),
	))
	defer span.End()

	coll, err := p.store.Collection(ctx, CollectionName(accountID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.New(errors.CodeRetrievalError, "open collection", err)
	}
	matches, err := coll.Query(ctx, query, p.topK, ScopeFilter(sessionID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.New(errors.CodeRetrievalError, "query collection", err)
	}
	span.SetAttributes(attribute.Int("retrieval.matches", len(matches)))
	p.logger.DebugContext(ctx, "retrieval.query.complete",
		slog.String("account_id", accountID),
		slog.String("session_id", sessionID),
		slog.Int("matches", len(matches)),
	)
	return matches, nil
}

// Query searches the account collection and renders the matches as
// "[Source: <title> (<scope>)]\n<text>" blocks joined by ResultSeparator.
// It returns NoResultsMessage when nothing matches.
func (p *Pipeline) Query(ctx context.Context, accountID, sessionID, query string) (string, error) {
	matches, err := p.Search(ctx, accountID, sessionID, query)
	if err != nil {
		return "", err
	}
	return Render(matches), nil
}

// Render formats matches in ranking order.
func Render(matches []Match) string {
	if len(matches) == 0 {
		return NoResultsMessage
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("[Source: %s (%s)]\n%s", m.Chunk.Metadata.Title, m.Chunk.Metadata.Scope, m.Chunk.Text)
	}
	return strings.Join(parts, ResultSeparator)
}

// DeleteGlobal removes every chunk of the global document titled title.
// Session documents with the same title are kept.
func (p *Pipeline) DeleteGlobal(ctx context.Context, accountID, title string) error {
	return p.DeleteWhere(ctx, accountID, Filter{Must: []Condition{
		Eq(KeyTitle, title),
		Eq(KeyScope, string(ScopeGlobal)),
	}})
}

// DeleteSession removes every chunk uploaded to a session.
func (p *Pipeline) DeleteSession(ctx context.Context, accountID, sessionID string) error {
	if sessionID == "" {
		return errors.New(errors.CodeInvalidInput, "session id is required", nil)
	}
	return p.DeleteWhere(ctx, accountID, Filter{Must: []Condition{
		Eq(KeyScope, string(ScopeSession)),
		Eq(KeySessionID, sessionID),
	}})
}

// DeleteWhere removes every chunk of the account matching filter. An empty
// filter is rejected.
func (p *Pipeline) DeleteWhere(ctx context.Context, accountID string, filter Filter) error {
	if filter.IsZero() {
		return errors.New(errors.CodeInvalidInput, "refusing to delete with an empty filter", nil)
	}
	coll, err := p.store.Collection(ctx, CollectionName(accountID))
	if err == nil {
		err = coll.Delete(ctx, filter)
	}
	if err != nil {
		return errors.New(errors.CodeRetrievalError, "delete chunks", err).
			WithContext("account_id", accountID)
	}
	p.logger.InfoContext(ctx, "retrieval.delete.complete",
		slog.String("account_id", accountID),
		slog.Int("must", len(filter.Must)),
		slog.Int("should", len(filter.Should)),
	)
	return nil
}
