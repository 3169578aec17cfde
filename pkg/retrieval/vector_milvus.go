package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/inboxlab/mailrag/pkg/ragconfig"
)

// MilvusVectorSearcher implements VectorSearcher using Milvus
type MilvusVectorSearcher struct {
	client     client.Client
	collection string
	cfg        *ragconfig.Config
}

// NewMilvusVectorSearcher connects to Milvus and loads the passage
// collection if it is not already loaded.
func NewMilvusVectorSearcher(ctx context.Context, cfg *ragconfig.Config) (*MilvusVectorSearcher, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Milvus.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Milvus: %w", err)
	}
	needsClose := true
	defer func() {
		if needsClose {
			_ = c.Close()
		}
	}()

	collection := cfg.Milvus.Collection

	loaded, err := c.GetLoadState(ctx, collection, nil)
	if err != nil {
		return nil, fmt.Errorf("checking collection load state: %w", err)
	}
	if loaded != entity.LoadStateLoaded {
		if err := c.LoadCollection(ctx, collection, false); err != nil {
			return nil, fmt.Errorf("loading collection: %w", err)
		}
	}

	needsClose = false
	return &MilvusVectorSearcher{
		client:     c,
		collection: collection,
		cfg:        cfg,
	}, nil
}

// passageOutputFields are the metadata columns retrieved with each hit so
// the reranker never has to re-query the archive.
var passageOutputFields = []string{
	"passage_id",
	"message_id",
	"thread_id",
	"subject",
	"sender",
	"recipients",
	"date",
	"ordinal",
	"text",
}

// Search performs a nearest-neighbor search over passage embeddings,
// nearest first. Scores returned by Milvus under the COSINE metric are
// distances in [0, 2].
func (m *MilvusVectorSearcher) Search(ctx context.Context, embedding []float32, limit int, ef int) ([]VectorHit, error) {
	vectors := []entity.Vector{entity.FloatVector(embedding)}

	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("creating search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collection,
		nil, // partitions
		"",  // expression filter
		passageOutputFields,
		vectors,
		"embedding",
		milvusMetricFromConfig(m.cfg.Milvus.Index.Metric),
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("Milvus search: %w", err)
	}

	if len(results) == 0 {
		return []VectorHit{}, nil
	}

	hits := make([]VectorHit, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		hit := VectorHit{
			Rank:     i + 1,
			Distance: float64(results[0].Scores[i]),
		}

		for _, field := range results[0].Fields {
			switch field.Name() {
			case "passage_id":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting passage_id at idx %d: %w", i, err)
					}
					hit.PassageID = val
				}
			case "message_id":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting message_id at idx %d: %w", i, err)
					}
					hit.MessageID = val
				}
			case "thread_id":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting thread_id at idx %d: %w", i, err)
					}
					hit.ThreadID = val
				}
			case "subject":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting subject at idx %d: %w", i, err)
					}
					hit.Subject = val
				}
			case "sender":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting sender at idx %d: %w", i, err)
					}
					hit.Sender = val
				}
			case "recipients":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					jsonStr, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting recipients at idx %d: %w", i, err)
					}
					hit.Recipients = parseStringArray(jsonStr)
				}
			case "date":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting date at idx %d: %w", i, err)
					}
					hit.Date = val
				}
			case "ordinal":
				if col, ok := field.(*entity.ColumnInt16); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting ordinal at idx %d: %w", i, err)
					}
					hit.Ordinal = int(val)
				}
			case "text":
				if col, ok := field.(*entity.ColumnVarChar); ok {
					val, err := col.ValueByIdx(i)
					if err != nil {
						return nil, fmt.Errorf("extracting text at idx %d: %w", i, err)
					}
					hit.Text = val
				}
			}
		}

		hits = append(hits, hit)
	}

	return hits, nil
}

func milvusMetricFromConfig(metric string) entity.MetricType {
	switch strings.ToUpper(strings.TrimSpace(metric)) {
	case "L2":
		return entity.L2
	case "IP", "INNER_PRODUCT":
		return entity.IP
	case "COSINE":
		return entity.COSINE
	default:
		return entity.COSINE
	}
}

// Stats returns Milvus collection statistics
func (m *MilvusVectorSearcher) Stats(ctx context.Context) (VectorStats, error) {
	stats := VectorStats{
		Connected:      true,
		Collection:     m.collection,
		EmbeddingModel: m.cfg.Embedding.Model,
		EmbeddingDim:   m.cfg.Embedding.Dimension,
		IndexType:      m.cfg.Milvus.Index.Type,
	}

	collStats, err := m.client.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return stats, fmt.Errorf("getting collection stats: %w", err)
	}

	if rowCount, ok := collStats["row_count"]; ok {
		fmt.Sscanf(rowCount, "%d", &stats.RowCount)
	}

	return stats, nil
}

// Close closes the Milvus connection
func (m *MilvusVectorSearcher) Close() error {
	return m.client.Close()
}
