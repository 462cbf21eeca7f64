package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant client connection.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Qdrant implements Index against a Qdrant server, for deployments that
// need a dedicated, horizontally scalable vector service.
type Qdrant struct {
	client *qdrant.Client
	cfg    QdrantConfig

	mu         sync.RWMutex
	dimensions map[string]int
}

func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Qdrant{client: client, cfg: cfg, dimensions: make(map[string]int)}, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, tenantID string, dimension int) error {
	name := collectionName(tenantID)

	q.mu.Lock()
	if existing, ok := q.dimensions[name]; ok {
		q.mu.Unlock()
		if existing != dimension {
			return errDimensionMismatch(tenantID, existing, dimension)
		}
		return nil
	}
	q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to reach Qdrant at %s:%d: %w", q.cfg.Host, q.cfg.Port, err)
	}

	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}

	q.mu.Lock()
	q.dimensions[name] = dimension
	q.mu.Unlock()
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, tenantID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name := collectionName(tenantID)

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		fields := map[string]any{
			"content":     r.Content,
			"document_id": r.DocumentID,
			"chunk_index": r.ChunkIndex,
		}
		for k, v := range r.Metadata {
			fields[k] = v
		}

		payload, err := qdrantPayload(fields)
		if err != nil {
			return fmt.Errorf("failed to build payload for point %s: %w", r.ID, err)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, tenantID string, vector []float32, topK int, filter Filter) ([]Result, error) {
	name := collectionName(tenantID)

	req := &qdrant.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if len(filter) > 0 {
		req.Filter = buildFilter(filter)
	}

	searchResult, err := q.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector search in %s failed: %w", name, err)
	}

	out := make([]Result, len(searchResult.Result))
	for i, p := range searchResult.Result {
		payload := p.GetPayload()
		out[i] = Result{
			ID:         pointIDString(p.GetId()),
			DocumentID: payload["document_id"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			Content:    payload["content"].GetStringValue(),
			Score:      p.GetScore(),
			Metadata:   payloadToStrings(payload),
		}
	}
	return out, nil
}

func (q *Qdrant) DeleteByDocument(ctx context.Context, tenantID string, documentID string) error {
	name := collectionName(tenantID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{Must: []*qdrant.Condition{matchKeyword("document_id", documentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func qdrantPayload(fields map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(fields))
	for k, v := range fields {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		payload[k] = val
	}
	return payload, nil
}

func buildFilter(filter Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		conditions = append(conditions, matchKeyword(k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

func payloadToStrings(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s := v.GetStringValue(); s != "" {
			out[k] = s
		}
	}
	return out
}

var _ Index = (*Qdrant)(nil)
