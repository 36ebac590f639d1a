// Package qdrant implements retrieval.Store on top of a Qdrant server over
// gRPC. Each collection is created on first write with the dimension of the
// first embedding; chunk metadata is stored as keyword payload so filters run
// server-side.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/mentat-ai/mentat/pkg/retrieval"
)

// Payload keys written for every point.
const (
	payloadText    = "text"
	payloadChunkID = "chunk_id"
)

// Store is a Qdrant-backed retrieval.Store.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	embedder    retrieval.Embedder
	conn        *grpc.ClientConn

	mu      sync.Mutex
	ensured map[string]bool
	// createMu is held across the exists check and the create.
	createMu sync.Mutex
}

// New connects to a Qdrant gRPC endpoint such as "localhost:6334".
func New(addr string, embedder retrieval.Embedder) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %v", err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), embedder)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a Store from existing gRPC clients.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, embedder retrieval.Embedder) *Store {
	return &Store{
		points:      points,
		collections: collections,
		embedder:    embedder,
		ensured:     make(map[string]bool),
	}
}

// Close releases the gRPC connection when the store owns one.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Collection returns a handle on the named collection. The collection itself
// is created lazily by the first Add.
func (s *Store) Collection(_ context.Context, name string) (retrieval.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("qdrant: collection name is empty")
	}
	return &collection{store: s, name: name}, nil
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	known := s.ensured[name]
	s.mu.Unlock()
	if known {
		return true, nil
	}
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	ok := resp.GetResult().GetExists()
	if ok {
		s.mu.Lock()
		s.ensured[name] = true
		s.mu.Unlock()
	}
	return ok, nil
}

// ensure creates the collection unless it already exists. Creation is
// serialized so concurrent first writes to one account issue a single Create.
func (s *Store) ensure(ctx context.Context, name string, vectorSize uint64) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	ok, err := s.exists(ctx, name)
	if err != nil || ok {
		return err
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	// Another process may have created it between the check and the create.
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	s.mu.Lock()
	s.ensured[name] = true
	s.mu.Unlock()
	return nil
}

type collection struct {
	store *Store
	name  string
}

func (c *collection) Add(ctx context.Context, chunks []retrieval.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	qPoints := make([]*pb.PointStruct, len(chunks))
	for i, ch := range chunks {
		vec, err := c.store.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", ch.ID, err)
		}
		qPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.name, ch.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vec},
				},
			},
			Payload: toPayload(ch),
		}
	}

	dim := len(qPoints[0].GetVectors().GetVector().GetData())
	if err := c.store.ensure(ctx, c.name, uint64(dim)); err != nil {
		return err
	}

	wait := true
	_, err := c.store.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (c *collection) Query(ctx context.Context, text string, topK int, filter retrieval.Filter) ([]retrieval.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	ok, err := c.store.exists(ctx, c.name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	vector, err := c.store.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	resp, err := c.store.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.name,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         toFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]retrieval.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		results = append(results, retrieval.Match{Chunk: fromPayload(r.GetPayload()), Score: r.GetScore()})
	}
	return results, nil
}

func (c *collection) Delete(ctx context.Context, filter retrieval.Filter) error {
	ok, err := c.store.exists(ctx, c.name)
	if err != nil || !ok {
		return err
	}
	wait := true
	_, err = c.store.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: c.name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: toFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// PointID maps a chunk id to the UUID Qdrant requires. The mapping is
// deterministic so re-adding a chunk overwrites the same point.
func PointID(collection, chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+chunkID)).String()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func toPayload(ch retrieval.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadText:            stringValue(ch.Text),
		payloadChunkID:         stringValue(ch.ID),
		retrieval.KeyTitle:     stringValue(ch.Metadata.Title),
		retrieval.KeyScope:     stringValue(string(ch.Metadata.Scope)),
		retrieval.KeySessionID: stringValue(ch.Metadata.SessionID),
		retrieval.KeyAccountID: stringValue(ch.Metadata.AccountID),
	}
}

func fromPayload(payload map[string]*pb.Value) retrieval.Chunk {
	get := func(k string) string { return payload[k].GetStringValue() }
	return retrieval.Chunk{
		ID:   get(payloadChunkID),
		Text: get(payloadText),
		Metadata: retrieval.Metadata{
			Title:     get(retrieval.KeyTitle),
			Scope:     retrieval.Scope(get(retrieval.KeyScope)),
			SessionID: get(retrieval.KeySessionID),
			AccountID: get(retrieval.KeyAccountID),
		},
	}
}

func keywordCondition(c retrieval.Condition) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   c.Key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: c.Value}},
			},
		},
	}
}

func toFilter(f retrieval.Filter) *pb.Filter {
	if f.IsZero() {
		return nil
	}
	out := &pb.Filter{}
	for _, c := range f.Must {
		out.Must = append(out.Must, keywordCondition(c))
	}
	for _, c := range f.Should {
		out.Should = append(out.Should, keywordCondition(c))
	}
	return out
}
