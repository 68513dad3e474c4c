package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/types"
)

// fakeQdrant 最小化的Qdrant HTTP桩，记录收到的写入请求体
type fakeQdrant struct {
	mu           sync.Mutex
	upsertBodies [][]byte
	searchBody   string
}

func (f *fakeQdrant) handler(collection string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/"+collection:
			fmt.Fprint(w, `{"result":{"config":{"params":{"vectors":{"size":4,"distance":"Cosine"}}}}}`)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/"+collection+"/points":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.upsertBodies = append(f.upsertBodies, body)
			f.mu.Unlock()
			fmt.Fprint(w, `{"status":"ok","time":0.001}`)
		case r.Method == http.MethodPost && r.URL.Path == "/collections/"+collection+"/points/search":
			fmt.Fprint(w, f.searchBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestQdrant(t *testing.T, fake *fakeQdrant, opts ...QdrantOption) *Qdrant {
	t.Helper()
	srv := httptest.NewServer(fake.handler("test_chunks"))
	t.Cleanup(srv.Close)

	q, err := NewQdrant(&config.QdrantConfig{
		Endpoint:   srv.URL,
		Collection: "test_chunks",
		Dimension:  4,
	}, opts...)
	require.NoError(t, err)
	return q
}

func testQdrantVector(docID string, index int) types.Vector {
	id := types.ChunkID(docID, index)
	return types.Vector{
		ID:     id,
		Values: []float64{0.1, 0.2, 0.3, 0.4},
		Metadata: types.ChunkMetadata{
			DocID:      docID,
			UserID:     "jane",
			Section:    "experience",
			ChunkIndex: index,
			ChunkTotal: 3,
			CharCount:  42,
			Text:       "Led the platform migration.",
		},
	}
}

func TestQdrantUpsertPayloadRoundTrip(t *testing.T) {
	fake := &fakeQdrant{}
	q := newTestQdrant(t, fake)

	require.NoError(t, q.Upsert(context.Background(), []types.Vector{testQdrantVector("resume_jane", 0)}))
	require.Len(t, fake.upsertBodies, 1)

	var req struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(fake.upsertBodies[0], &req))
	require.Len(t, req.Points, 1)

	point := req.Points[0]
	// 点ID是分块ID的确定性UUIDv5映射
	assert.Equal(t, uuid.NewV5(QdrantPointIDNamespace, "resume_jane_chunk_0").String(), point.ID)
	assert.Len(t, point.Vector, 4)

	// 元数据完整落进payload，并额外携带原始分块ID
	assert.Equal(t, "resume_jane", point.Payload["doc_id"])
	assert.Equal(t, "jane", point.Payload["user_id"])
	assert.Equal(t, "experience", point.Payload["section"])
	assert.Equal(t, float64(3), point.Payload["chunk_total"])
	assert.Equal(t, "Led the platform migration.", point.Payload["text"])
	assert.Equal(t, "resume_jane_chunk_0", point.Payload["chunk_uid"])
}

func TestQdrantUpsertSplitsIntoBatches(t *testing.T) {
	fake := &fakeQdrant{}
	q := newTestQdrant(t, fake, WithUpsertBatchSize(2))

	vectors := []types.Vector{
		testQdrantVector("resume_jane", 0),
		testQdrantVector("resume_jane", 1),
		testQdrantVector("resume_jane", 2),
	}
	require.NoError(t, q.Upsert(context.Background(), vectors))
	require.Len(t, fake.upsertBodies, 2)

	var sizes []int
	for _, body := range fake.upsertBodies {
		var req struct {
			Points []json.RawMessage `json:"points"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		sizes = append(sizes, len(req.Points))
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestQdrantUpsertRejectsDimensionMismatch(t *testing.T) {
	fake := &fakeQdrant{}
	q := newTestQdrant(t, fake)

	v := testQdrantVector("resume_jane", 0)
	v.Values = []float64{0.1, 0.2}
	err := q.Upsert(context.Background(), []types.Vector{v})
	require.Error(t, err)
	assert.Empty(t, fake.upsertBodies, "维度不匹配时不应发出写入请求")
}

func TestQdrantQueryRestoresChunkID(t *testing.T) {
	fake := &fakeQdrant{
		searchBody: `{"status":"ok","time":0.001,"result":[
			{"id":"1c2d3e4f-0000-0000-0000-000000000000","score":0.91,
			 "payload":{"chunk_uid":"resume_jane_chunk_0","doc_id":"resume_jane","section":"experience","chunk_index":0}}
		]}`,
	}
	q := newTestQdrant(t, fake)

	results, err := q.Query(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 5, map[string]interface{}{"doc_id": "resume_jane"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// 查询结果用payload里保留的分块ID，而不是Qdrant的点UUID
	assert.Equal(t, "resume_jane_chunk_0", results[0].ID)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	meta := results[0].Metadata()
	assert.Equal(t, "resume_jane", meta.DocID)
	assert.Equal(t, "experience", meta.Section)
}
