package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent-go/internal/storage"
	"outreach-agent-go/internal/types"
)

// fixedQueryEmbedder 查询永远返回固定向量，用于精确控制检索分数
type fixedQueryEmbedder struct {
	vector []float64
}

func (e *fixedQueryEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = e.vector
	}
	return out, nil
}

func (e *fixedQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return e.vector, nil
}

func (e *fixedQueryEmbedder) Dimensions() int { return len(e.vector) }

func seedRetrieverStore(t *testing.T) *storage.MemoryVectorStore {
	t.Helper()
	store := storage.NewMemoryVectorStore()
	vectors := []types.Vector{
		{
			ID:     "resume_a_chunk_0",
			Values: []float64{1, 0},
			Metadata: types.ChunkMetadata{
				DocID:   "resume_a",
				UserID:  "alice",
				Section: "experience",
				Text:    "Built Go services at Acme.",
			},
		},
		{
			ID:     "resume_a_chunk_1",
			Values: []float64{0.7, 0.7},
			Metadata: types.ChunkMetadata{
				DocID:   "resume_a",
				UserID:  "alice",
				Section: "skills",
				Text:    "Go, Kubernetes, PostgreSQL.",
			},
		},
		{
			ID:     "resume_b_chunk_0",
			Values: []float64{0, 1},
			Metadata: types.ChunkMetadata{
				DocID:   "resume_b",
				UserID:  "bob",
				Section: "education",
				Text:    "B.S. Mathematics.",
			},
		},
		{
			// 与查询向量近似正交，分数低于默认下限0.1，应被丢弃
			ID:     "resume_a_chunk_2",
			Values: []float64{0.01, 1},
			Metadata: types.ChunkMetadata{
				DocID:   "resume_a",
				UserID:  "alice",
				Section: "certifications",
				Text:    "CKA certificate.",
			},
		},
	}
	require.NoError(t, store.Upsert(context.Background(), vectors))
	return store
}

func TestRetrieveContextOrdersAndFilters(t *testing.T) {
	store := seedRetrieverStore(t)
	r := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{1, 0}}, 5, 0.1)

	chunks, err := r.RetrieveContext(context.Background(), "go experience", nil, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "正交向量与低分向量应被丢弃")

	assert.Equal(t, "resume_a_chunk_0", chunks[0].ID)
	assert.Equal(t, "resume_a_chunk_1", chunks[1].ID)
	assert.Greater(t, chunks[0].Score, chunks[1].Score)
	// PageContent来自payload的text字段
	assert.Equal(t, "Built Go services at Acme.", chunks[0].PageContent)
}

func TestRetrieveContextDocFilter(t *testing.T) {
	store := seedRetrieverStore(t)
	r := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{0.7, 0.7}}, 5, 0.1)

	chunks, err := r.RetrieveContext(context.Background(), "education", DocFilter("resume_b"), 5)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "resume_b", chunks[0].Metadata.DocID)
}

func TestRetrieveContextUserFilter(t *testing.T) {
	store := seedRetrieverStore(t)
	r := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{1, 0}}, 5, 0.1)

	chunks, err := r.RetrieveContext(context.Background(), "anything", UserFilter("alice"), 5)
	require.NoError(t, err)
	for _, chunk := range chunks {
		assert.Equal(t, "alice", chunk.Metadata.UserID)
	}
	require.NotEmpty(t, chunks)
}

func TestRetrieveContextDefaultTopK(t *testing.T) {
	store := seedRetrieverStore(t)
	r := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{0.7, 0.7}}, 2, 0.1)

	// topK<=0 时退回构造时的默认值2
	chunks, err := r.RetrieveContext(context.Background(), "anything", nil, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetrieveContextEmptyIndex(t *testing.T) {
	store := storage.NewMemoryVectorStore()
	r := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{1, 0}}, 5, 0.1)

	chunks, err := r.RetrieveContext(context.Background(), "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks, "空索引是正常结果而非错误")
}

func TestFormatContextLayout(t *testing.T) {
	chunks := []types.Chunk{
		{
			PageContent: "Built Go services at Acme.",
			Metadata:    types.ChunkMetadata{Section: "experience"},
			Score:       0.923,
		},
		{
			PageContent: "Go, Kubernetes, PostgreSQL.",
			Metadata:    types.ChunkMetadata{Section: "skills"},
			Score:       0.5,
		},
	}

	got := FormatContext(chunks)
	want := "Section 1: EXPERIENCE (Relevance: 92.3%)\n" +
		"Built Go services at Acme.\n\n" +
		"Section 2: SKILLS (Relevance: 50.0%)\n" +
		"Go, Kubernetes, PostgreSQL."
	assert.Equal(t, want, got)
}

func TestFormatContextUnknownSectionAndEmpty(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	got := FormatContext([]types.Chunk{{PageContent: "text", Score: 0.2}})
	assert.Equal(t, "Section 1: UNKNOWN (Relevance: 20.0%)\ntext", got)
}
