package rag

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/tracing"
	"outreach-agent-go/internal/types"
)

// Retriever 按查询语义检索相关分块
type Retriever struct {
	store    VectorStore
	embedder Embedder
	// topK 默认返回条数
	topK int
	// minScore 相似度下限，低于该值的结果被丢弃
	minScore float64
}

// NewRetriever 创建检索器
func NewRetriever(store VectorStore, embedder Embedder, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if minScore <= 0 {
		minScore = 0.1
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		topK:     topK,
		minScore: minScore,
	}
}

// DocFilter 构造按docId限定的过滤器
func DocFilter(docID string) map[string]interface{} {
	return map[string]interface{}{"doc_id": docID}
}

// UserFilter 构造按userId限定的过滤器
func UserFilter(userID string) map[string]interface{} {
	return map[string]interface{}{"user_id": userID}
}

// RetrieveContext 向量化查询并按过滤器检索
// topK<=0时使用默认值，结果保持向量库返回的降序并过滤低于minScore的项
func (r *Retriever) RetrieveContext(ctx context.Context, query string, filter map[string]interface{}, topK int) ([]types.Chunk, error) {
	ctx, span := ragTracer.Start(ctx, "Retriever.RetrieveContext",
		trace.WithAttributes(
			attribute.String("query", tracing.SafeQuery(query)),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	if topK <= 0 {
		topK = r.topK
	}

	embedCtx, cancelEmbed := context.WithTimeout(ctx, constants.EmbedOpTimeout)
	queryVector, err := r.embedder.EmbedQuery(embedCtx, query)
	cancelEmbed()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewPipelineError("", StepRetrieval, ErrEmbeddingFailed, err.Error())
	}

	queryCtx, cancelQuery := context.WithTimeout(ctx, constants.VectorOpTimeout)
	results, err := r.store.Query(queryCtx, queryVector, topK, filter)
	cancelQuery()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, NewPipelineError("", StepRetrieval, err, "")
	}

	chunks := make([]types.Chunk, 0, len(results))
	for _, res := range results {
		if res.Score < r.minScore {
			continue
		}
		meta := res.Metadata()
		chunks = append(chunks, types.Chunk{
			ID:          res.ID,
			PageContent: meta.Text,
			Metadata:    meta,
			Score:       res.Score,
		})
	}

	span.SetAttributes(attribute.Int("results.count", len(chunks)))
	span.SetStatus(codes.Ok, "")
	return chunks, nil
}

// FormatContext 把检索结果拼装成提示词的上下文段落
// "Section i: <NAME> (Relevance: xx.x%)" 是与模型的提示词契约，不能改动
func FormatContext(chunks []types.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, chunk := range chunks {
		section := chunk.Metadata.Section
		if section == "" {
			section = string(types.SectionUnknown)
		}
		sb.WriteString(fmt.Sprintf("Section %d: %s (Relevance: %.1f%%)\n", i+1, strings.ToUpper(section), chunk.Score*100))
		sb.WriteString(chunk.PageContent)
		if i < len(chunks)-1 {
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
