package storage

import (
	"context"
	"errors"

	"outreach-agent-go/internal/types"
)

// ErrStoreUnavailable 向量库不可用（传输层错误）
var ErrStoreUnavailable = errors.New("向量数据库不可用")

// SearchResult 表示一个相似度搜索结果项
type SearchResult struct {
	ID string
	// Score 余弦相似度，[-1,1]，越高越相似
	Score   float64
	Payload map[string]interface{}
}

// Metadata 从payload还原的分块元数据
func (r *SearchResult) Metadata() types.ChunkMetadata {
	return types.MetadataFromPayload(r.Payload)
}

// VectorStore 核心依赖的向量库能力，内存实现与Qdrant实现都必须满足
type VectorStore interface {
	// Upsert 按ID幂等写入向量及其payload，向量与payload原子写入
	Upsert(ctx context.Context, vectors []types.Vector) error

	// Query 相似度搜索，返回最多topK个结果，按分数严格降序
	// filter 支持 {field: value} 与 {field: {"$eq": value}} 两种等值形式
	Query(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]SearchResult, error)

	// DeleteByDocID 删除 metadata.doc_id == docID 的全部向量，零命中也算成功
	DeleteByDocID(ctx context.Context, docID string) error

	// Exists 至少存在一个 metadata.doc_id == docID 的向量时为true
	Exists(ctx context.Context, docID string) (bool, error)

	// Stats 可观测性计数
	Stats(ctx context.Context) (types.StoreStats, error)
}

// NormalizeFilter 将过滤器展开为纯等值形式
// {field: {"$eq": value}} 被归一化为 {field: value}
func NormalizeFilter(filter map[string]interface{}) map[string]interface{} {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(filter))
	for field, cond := range filter {
		if m, ok := cond.(map[string]interface{}); ok {
			if eq, found := m["$eq"]; found {
				out[field] = eq
				continue
			}
		}
		out[field] = cond
	}
	return out
}
