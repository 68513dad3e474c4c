package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-agent-go/internal/agent"
	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/parser"
	"outreach-agent-go/internal/storage"
	"outreach-agent-go/internal/storage/models"
	"outreach-agent-go/internal/types"
)

// IngestRequest 一次文档摄取请求
// PDFData与Text二选一，PDFData优先
type IngestRequest struct {
	UserID   string
	DocID    string
	Filename string
	PDFData  []byte
	Text     string
}

// Service RAG管道门面，聚合摄取、检索、分析与画像解析
type Service struct {
	cfg       *config.Config
	store     *storage.Storage
	vectors   VectorStore
	extractor *parser.EinoPDFTextExtractor
	indexer   *Indexer
	retriever *Retriever
	analyzer  *Analyzer
	parser    *ResumeParser
}

var (
	serviceOnce     sync.Once
	serviceInstance *Service
	serviceErr      error
)

// GetService 返回单例Service，首次调用时完成全部依赖装配
func GetService(ctx context.Context, cfg *config.Config) (*Service, error) {
	serviceOnce.Do(func() {
		serviceInstance, serviceErr = buildService(ctx, cfg)
	})
	return serviceInstance, serviceErr
}

// ResetService 重置单例，仅测试使用
func ResetService() {
	serviceOnce = sync.Once{}
	serviceInstance = nil
	serviceErr = nil
}

func buildService(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		return nil, fmt.Errorf("初始化Embedder失败: %w", err)
	}

	analysisModel, err := agent.NewAliyunQwenChatModel(
		cfg.Aliyun.APIKey,
		cfg.GetModelForTask("analysis"),
		cfg.Aliyun.APIURL,
	)
	if err != nil {
		return nil, fmt.Errorf("初始化分析模型失败: %w", err)
	}
	parserModel, err := agent.NewAliyunQwenChatModel(
		cfg.Aliyun.APIKey,
		cfg.GetModelForTask("resume_parse"),
		cfg.Aliyun.APIURL,
	)
	if err != nil {
		return nil, fmt.Errorf("初始化解析模型失败: %w", err)
	}

	extractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化PDF提取器失败: %w", err)
	}

	return NewService(cfg, store, embedder, analysisModel, parserModel, extractor), nil
}

// NewService 按显式依赖装配Service，测试时直接注入mock
func NewService(cfg *config.Config, store *storage.Storage, embedder Embedder, analysisModel, parserModel agent.StructuredChatModel, extractor *parser.EinoPDFTextExtractor) *Service {
	chunker := parser.NewChunker(parser.ChunkerConfig{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
	})
	validator := parser.NewResumeValidator(parser.ValidatorConfig{
		MinLength:          cfg.RAG.MinLength,
		MaxLength:          cfg.RAG.MaxLength,
		KeywordCheckLength: cfg.RAG.KeywordCheckLength,
		MinKeywordMatches:  cfg.RAG.MinKeywordMatches,
		Keywords:           cfg.RAG.ResumeKeywords,
	})

	var indexerOpts []IndexerOption
	if store.Redis != nil {
		indexerOpts = append(indexerOpts, WithLeaseManager(store.Redis))
	}
	indexer := NewIndexer(store.Vectors, embedder, chunker, validator, indexerOpts...)
	retriever := NewRetriever(store.Vectors, embedder, cfg.RAG.DefaultTopK, cfg.RAG.MinScoreThreshold)
	analyzer := NewAnalyzer(retriever, analysisModel)

	var userStore UserStore
	if store.MySQL != nil {
		userStore = store.MySQL
	}
	resumeParser := NewResumeParser(parserModel, userStore, cfg.GetModelForTask("resume_parse"), cfg.RAG.ParserMaxChars)

	return &Service{
		cfg:       cfg,
		store:     store,
		vectors:   store.Vectors,
		extractor: extractor,
		indexer:   indexer,
		retriever: retriever,
		analyzer:  analyzer,
		parser:    resumeParser,
	}
}

// DocIDFor 推导文档ID: 显式指定 > resume_<userId> > 随机UUID
func DocIDFor(docID, userID string) string {
	if docID != "" {
		return docID
	}
	if userID != "" {
		return constants.DocIDPrefix + userID
	}
	return constants.DocIDPrefix + uuid.NewString()
}

// Ingest 完整摄取管道: 提取 → 校验 → 索引，画像解析并行执行
// 对象存储、审计记录、事件发布都是非致命的旁路步骤
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*types.IngestResult, error) {
	docID := DocIDFor(req.DocID, req.UserID)

	text := req.Text
	numPages := 0
	if len(req.PDFData) > 0 {
		extracted, err := s.extractor.ExtractFromBytes(ctx, req.PDFData, req.Filename)
		if err != nil {
			return nil, NewPipelineError(docID, StepExtraction, parser.ErrExtractionFailed, err.Error())
		}
		text = extracted.Text
		numPages = extracted.NumPages

		// 原始PDF归档失败不阻塞摄取
		if s.store.MinIO != nil {
			if _, err := s.store.MinIO.StoreOriginal(ctx, docID, req.PDFData); err != nil {
				logger.Warn().Err(err).Str("doc_id", docID).Msg("原始简历归档失败")
			}
		}
	}

	// 画像解析与索引并行，共享同一份提取文本
	profileCh := make(chan *types.ParsedResume, 1)
	go func() {
		profileCh <- s.parser.ParseAndPersist(ctx, req.UserID, docID, text)
	}()

	base := parser.ChunkBase{
		DocID:           docID,
		UserID:          req.UserID,
		Source:          constants.SourceResumeUpload,
		UploadTimestamp: time.Now().UTC().Format(time.RFC3339),
	}
	result, err := s.indexer.IndexDocument(ctx, text, base)
	if err != nil {
		// 索引失败也要等解析goroutine退出
		<-profileCh
		return nil, err
	}
	result.Profile = <-profileCh

	if result.Profile != nil && s.store.Redis != nil && req.UserID != "" {
		if err := s.store.Redis.CacheResumeProfile(ctx, req.UserID, result.Profile); err != nil {
			logger.Warn().Err(err).Str("user_id", req.UserID).Msg("画像缓存写入失败")
		}
	}

	if s.store.MySQL != nil {
		sections, _ := json.Marshal(result.Stats.Sections)
		record := &models.IngestRecord{
			DocID:       docID,
			UserID:      req.UserID,
			Filename:    req.Filename,
			ChunkCount:  result.ChunksIndexed,
			CharCount:   len([]rune(text)),
			NumPages:    numPages,
			SectionsSum: sections,
			Status:      "INDEXED",
		}
		if err := s.store.MySQL.RecordIngest(ctx, record); err != nil {
			logger.Warn().Err(err).Str("doc_id", docID).Msg("入库审计记录写入失败")
		}
	}

	if s.store.RabbitMQ != nil {
		event := storage.ResumeIndexedEvent{
			DocID:      docID,
			UserID:     req.UserID,
			ChunkCount: result.ChunksIndexed,
			CharCount:  len([]rune(text)),
			IndexedAt:  time.Now().UTC(),
		}
		if err := s.store.RabbitMQ.PublishIndexed(ctx, event); err != nil {
			logger.Warn().Err(err).Str("doc_id", docID).Msg("入库事件发布失败")
			s.enqueueOutbox(ctx, s.store.RabbitMQ.IndexedRoutingKey(), event)
		}
	}

	return result, nil
}

// Analyze 对已索引的简历执行结构化分析
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*types.AnalysisResult, error) {
	if req.DocID == "" && req.UserID != "" {
		req.DocID = DocIDFor("", req.UserID)
	}
	return s.analyzer.Analyze(ctx, req)
}

// SkillMatch 技能匹配检查，docID为空时按userID推导
func (s *Service) SkillMatch(ctx context.Context, requiredSkills []string, docID, userID string) (*types.SkillMatchResult, error) {
	filter := DocFilter(DocIDFor(docID, userID))
	return s.analyzer.AnalyzeSkillMatch(ctx, requiredSkills, filter)
}

// Retrieve 直接暴露检索，供调试与扩展接口使用
func (s *Service) Retrieve(ctx context.Context, query, docID string, topK int) ([]types.Chunk, error) {
	return s.retriever.RetrieveContext(ctx, query, DocFilter(docID), topK)
}

// Exists 判断文档是否已索引
func (s *Service) Exists(ctx context.Context, docID string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, constants.VectorOpTimeout)
	defer cancel()
	return s.vectors.Exists(opCtx, docID)
}

// DeleteDocument 删除文档的向量、原始文件并发布删除事件
func (s *Service) DeleteDocument(ctx context.Context, docID string) error {
	opCtx, cancel := context.WithTimeout(ctx, constants.VectorOpTimeout)
	err := s.vectors.DeleteByDocID(opCtx, docID)
	cancel()
	if err != nil {
		return NewPipelineError(docID, StepIndexing, err, "删除向量失败")
	}

	if s.store.MinIO != nil {
		if err := s.store.MinIO.DeleteOriginal(ctx, docID); err != nil {
			logger.Warn().Err(err).Str("doc_id", docID).Msg("删除原始简历失败")
		}
	}
	if s.store.RabbitMQ != nil {
		event := storage.ResumeDeletedEvent{
			DocID:     docID,
			DeletedAt: time.Now().UTC(),
		}
		if err := s.store.RabbitMQ.PublishDeleted(ctx, event); err != nil {
			logger.Warn().Err(err).Str("doc_id", docID).Msg("删除事件发布失败")
			s.enqueueOutbox(ctx, s.store.RabbitMQ.DeletedRoutingKey(), event)
		}
	}
	return nil
}

// Stats 向量库可观测性统计
func (s *Service) Stats(ctx context.Context) (types.StoreStats, error) {
	opCtx, cancel := context.WithTimeout(ctx, constants.VectorOpTimeout)
	defer cancel()
	return s.vectors.Stats(opCtx)
}

// GetProfile 读取用户画像，优先Redis缓存，回源MySQL时回填缓存
func (s *Service) GetProfile(ctx context.Context, userID string) (*types.ParsedResume, error) {
	if s.store.Redis != nil {
		if cached, err := s.store.Redis.GetCachedResumeProfile(ctx, userID); err == nil && cached != nil {
			return cached, nil
		}
	}
	if s.store.MySQL == nil {
		return nil, nil
	}
	profile, err := s.store.MySQL.GetResumeProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil && s.store.Redis != nil {
		if err := s.store.Redis.CacheResumeProfile(ctx, userID, profile); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("画像缓存回填失败")
		}
	}
	return profile, nil
}

// enqueueOutbox 把发布失败的事件写入发件箱，等待中继补发
func (s *Service) enqueueOutbox(ctx context.Context, routingKey string, event interface{}) {
	if s.store.MySQL == nil {
		return
	}
	if err := s.store.MySQL.EnqueueOutbox(ctx, routingKey, event); err != nil {
		logger.Error().Err(err).Str("routing_key", routingKey).Msg("事件写入发件箱失败，该事件丢失")
	}
}

// Store 暴露底层存储聚合，供启动期装配中继等辅助进程
func (s *Service) Store() *storage.Storage {
	return s.store
}

// Close 释放底层存储连接
func (s *Service) Close() {
	if s.store != nil {
		s.store.Close()
	}
}
