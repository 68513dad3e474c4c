package rag

import (
	"context"

	"outreach-agent-go/internal/storage"
	"outreach-agent-go/internal/types"
)

// Embedder 文本向量化能力
type Embedder interface {
	// EmbedDocuments 批量向量化，返回顺序与输入一致
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
	// EmbedQuery 单条查询向量化
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	// Dimensions 向量维度
	Dimensions() int
}

// VectorStore 管道消费的向量库能力，由storage包实现
type VectorStore = storage.VectorStore

// UserStore 简历画像持久化能力
type UserStore interface {
	PutResumeProfile(ctx context.Context, userID, docID, parserModel string, parsed *types.ParsedResume) error
	GetResumeProfile(ctx context.Context, userID string) (*types.ParsedResume, error)
}
