package retrieval

import "context"

// Scope tells whether a document is visible account-wide or to one session.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeSession Scope = "session"
)

// NoSession is stored as the session id of global chunks.
const NoSession = "none"

// Metadata keys usable in filter conditions.
const (
	KeyTitle     = "title"
	KeyScope     = "scope"
	KeySessionID = "session_id"
	KeyAccountID = "account_id"
)

// Metadata is attached identically to every chunk of a document.
type Metadata struct {
	Title     string `json:"title"`
	Scope     Scope  `json:"scope"`
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
}

// Get returns the value stored under a metadata key, or "" for unknown keys.
func (m Metadata) Get(key string) string {
	switch key {
	case KeyTitle:
		return m.Title
	case KeyScope:
		return string(m.Scope)
	case KeySessionID:
		return m.SessionID
	case KeyAccountID:
		return m.AccountID
	default:
		return ""
	}
}

// Chunk is an indexed slice of a document. Chunks are never updated, only
// added or deleted.
type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Match is a query hit in store ranking order.
type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Condition is an equality test on a metadata key.
type Condition struct {
	Key   string
	Value string
}

// Eq builds a Condition.
func Eq(key, value string) Condition {
	return Condition{Key: key, Value: value}
}

// Filter selects chunks by metadata. A chunk matches when every Must
// condition holds and, if Should is non-empty, at least one Should condition
// holds. The zero Filter matches everything.
type Filter struct {
	Must   []Condition
	Should []Condition
}

// Matches reports whether m satisfies the filter.
func (f Filter) Matches(m Metadata) bool {
	for _, c := range f.Must {
		if m.Get(c.Key) != c.Value {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if m.Get(c.Key) == c.Value {
			return true
		}
	}
	return false
}

// IsZero reports whether the filter has no conditions.
func (f Filter) IsZero() bool {
	return len(f.Must) == 0 && len(f.Should) == 0
}

// Collection is a named set of chunks searchable by text.
type Collection interface {
	// Add indexes chunks. IDs must be unique within the collection.
	Add(ctx context.Context, chunks []Chunk) error
	// Query returns up to topK chunks matching filter, best first.
	Query(ctx context.Context, text string, topK int, filter Filter) ([]Match, error)
	// Delete removes every chunk matching filter.
	Delete(ctx context.Context, filter Filter) error
}

// Store hands out collections, creating them on first use.
type Store interface {
	Collection(ctx context.Context, name string) (Collection, error)
}

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}
