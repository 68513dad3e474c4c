package rag

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/parser"
	"outreach-agent-go/internal/tracing"
	"outreach-agent-go/internal/types"
)

var ragTracer = otel.Tracer("outreach-agent-go/rag")

// LeaseManager 跨进程的摄取租约，同一文档同一时间只允许一个摄取方
type LeaseManager interface {
	AcquireIngestLease(ctx context.Context, docID string) (bool, error)
	ReleaseIngestLease(ctx context.Context, docID string) error
}

// Indexer 把一段已提取并通过校验的文本变成向量库中的分块
type Indexer struct {
	store     VectorStore
	embedder  Embedder
	chunker   *parser.Chunker
	validator *parser.ResumeValidator
	// 进程内的按文档互斥锁
	docLocks sync.Map
	// 可选的跨进程租约
	leases LeaseManager
}

// IndexerOption Indexer构造选项
type IndexerOption func(*Indexer)

// WithLeaseManager 启用跨进程摄取租约
func WithLeaseManager(lm LeaseManager) IndexerOption {
	return func(ix *Indexer) {
		ix.leases = lm
	}
}

// NewIndexer 创建索引器
func NewIndexer(store VectorStore, embedder Embedder, chunker *parser.Chunker, validator *parser.ResumeValidator, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:     store,
		embedder:  embedder,
		chunker:   chunker,
		validator: validator,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Indexer) lockDoc(docID string) *sync.Mutex {
	v, _ := ix.docLocks.LoadOrStore(docID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// IndexDocument 执行 校验 → 清理旧向量 → 分块 → 向量化 → 批量入库
// 同一docID的并发调用被串行化，重复摄取产生完全相同的分块集合
func (ix *Indexer) IndexDocument(ctx context.Context, text string, base parser.ChunkBase) (*types.IngestResult, error) {
	ctx, span := ragTracer.Start(ctx, "Indexer.IndexDocument",
		trace.WithAttributes(
			attribute.String("doc.id", base.DocID),
			attribute.Int("text.length", len(text)),
		))
	defer span.End()

	docID := base.DocID
	if docID == "" {
		err := NewPipelineError("", StepValidation, parser.ErrInvalidDocument, "docId不能为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	validation, err := ix.validator.Validate(text)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, NewPipelineError(docID, StepValidation, err, "")
	}
	for _, warning := range validation.Warnings {
		logger.Warn().Str("doc_id", docID).Msg(warning)
	}

	mu := ix.lockDoc(docID)
	mu.Lock()
	defer mu.Unlock()

	if ix.leases != nil {
		acquired, err := ix.leases.AcquireIngestLease(ctx, docID)
		if err != nil {
			// 租约服务不可用时降级为仅进程内互斥
			logger.Warn().Err(err).Str("doc_id", docID).Msg("获取摄取租约失败，退化为进程内互斥")
		} else if !acquired {
			err := NewPipelineError(docID, StepIndexing, ErrIngestInProgress, "")
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			return nil, err
		} else {
			defer func() {
				if err := ix.leases.ReleaseIngestLease(context.WithoutCancel(ctx), docID); err != nil {
					logger.Warn().Err(err).Str("doc_id", docID).Msg("释放摄取租约失败")
				}
			}()
		}
	}

	chunks, stats := ix.chunker.Chunk(text, base)
	if len(chunks) == 0 {
		err := NewPipelineError(docID, StepValidation, parser.ErrInvalidDocument, "分块结果为空")
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("chunks.count", len(chunks)),
		attribute.Int("sections.count", stats.SectionCount),
	)

	// 先无条件清理旧向量再重建，中途失败时该文档在索引里是空的，
	// 读方必须把"检索不到内容"当作正常结果处理
	deleteCtx, cancelDelete := context.WithTimeout(ctx, constants.VectorOpTimeout)
	err = ix.store.DeleteByDocID(deleteCtx, docID)
	cancelDelete()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, NewPipelineError(docID, StepIndexing, ErrIndexingFailed, fmt.Sprintf("清理旧向量失败: %v", err))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}

	embedCtx, cancelEmbed := context.WithTimeout(ctx, constants.EmbedOpTimeout)
	embeddings, err := ix.embedder.EmbedDocuments(embedCtx, texts)
	cancelEmbed()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewPipelineError(docID, StepIndexing, ErrEmbeddingFailed, err.Error())
	}
	if len(embeddings) != len(chunks) {
		err := fmt.Errorf("向量数量(%d)与分块数量(%d)不匹配", len(embeddings), len(chunks))
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewPipelineError(docID, StepIndexing, ErrEmbeddingFailed, err.Error())
	}

	vectors := make([]types.Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = types.Vector{
			ID:       c.ID,
			Values:   embeddings[i],
			Metadata: c.Metadata,
		}
	}

	upsertCtx, cancelUpsert := context.WithTimeout(ctx, constants.VectorOpTimeout)
	err = ix.store.Upsert(upsertCtx, vectors)
	cancelUpsert()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, NewPipelineError(docID, StepIndexing, ErrIndexingFailed, err.Error())
	}

	logger.Info().
		Str("doc_id", docID).
		Int("chunks", len(chunks)).
		Int("sections", stats.SectionCount).
		Msg("文档已入库")

	span.SetStatus(codes.Ok, "")
	return &types.IngestResult{
		DocID:         docID,
		ChunksIndexed: len(chunks),
		Stats:         stats,
		VectorIndexed: true,
	}, nil
}
