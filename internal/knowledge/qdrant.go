package knowledge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds Qdrant connection configuration
type QdrantConfig struct {
	URL            string // e.g. "https://example.qdrant.io:6334"
	CollectionName string
	APIKey         string
}

// QdrantIndex keeps library embeddings in a Qdrant collection
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects to Qdrant over gRPC
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, collection: cfg.CollectionName}, nil
}

// pointID maps a snippet id to a stable Qdrant point id
func pointID(snippetID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("psysense:"+snippetID)).String()
}

// Seed creates the collection if needed and upserts one point per snippet
func (q *QdrantIndex) Seed(ctx context.Context, snippets []Snippet, vectors [][]float32) error {
	if len(snippets) == 0 || len(snippets) != len(vectors) {
		return fmt.Errorf("seed: %d snippets for %d vectors", len(snippets), len(vectors))
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check failed: %w", err)
	}
	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vectors[0])),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant create collection failed: %w", err)
		}
	}

	points := make([]*qdrant.PointStruct, len(snippets))
	for i, s := range snippets {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(s.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"snippet_id": s.ID,
				"title":      s.Title,
				"content":    s.Content,
			}),
		}
	}
	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Scores returns cosine similarity per snippet id
func (q *QdrantIndex) Scores(ctx context.Context, query []float32, limit int) (map[string]float64, error) {
	l := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	scores := make(map[string]float64, len(points))
	for _, point := range points {
		if point.Payload == nil {
			continue
		}
		if id := point.Payload["snippet_id"].GetStringValue(); id != "" {
			scores[id] = float64(point.Score)
		}
	}
	return scores, nil
}

// Ping checks the server is reachable
func (q *QdrantIndex) Ping(ctx context.Context) error {
	_, err := q.client.HealthCheck(ctx)
	return err
}

// Close releases the connection
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

var _ VectorIndex = (*QdrantIndex)(nil)
