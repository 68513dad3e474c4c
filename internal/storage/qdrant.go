package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/tracing"
	"outreach-agent-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("outreach-agent-go/storage/qdrant")

// QdrantPointIDNamespace 用于为分块生成确定性的Qdrant点ID
// 同一文档的同一分块永远得到同一个点ID，保证写入幂等
// UUID由 `uuidgen` 生成
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("9b1f6a34-7c02-4d4e-bd3a-2f60c1e894d7"))

// 确保Qdrant实现了VectorStore接口
var _ VectorStore = (*Qdrant)(nil)

// Qdrant 基于HTTP API的向量数据库客户端
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	upsertBatch    int
	httpClient     *http.Client
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHTTPTimeout 设置HTTP客户端超时
func WithHTTPTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithUpsertBatchSize 设置批量写入的单批大小
func WithUpsertBatchSize(size int) QdrantOption {
	return func(q *Qdrant) {
		if size > 0 {
			q.upsertBatch = size
		}
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}

	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = "resume_chunks"
	}

	vectorSize := cfg.Dimension
	if vectorSize <= 0 {
		vectorSize = 1536
	}

	q := &Qdrant{
		endpoint:       endpoint,
		collectionName: collectionName,
		vectorSize:     vectorSize,
		distanceMetric: "Cosine",
		upsertBatch:    100,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", collectionName, err)
	}

	logger.Info().Str("endpoint", endpoint).Str("collection", collectionName).Msg("成功连接到Qdrant服务器")
	return q, nil
}

// ensureCollectionExists 确保向量集合存在，不存在时按当前配置创建
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "check_collection"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	url := fmt.Sprintf("%s/collections/%s", q.endpoint, q.collectionName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("创建检查集合请求失败: %w", err)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		span.AddEvent("collection_not_found", trace.WithAttributes(
			attribute.String("action", "create_collection"),
		))
		logger.Info().Str("collection", q.collectionName).Msg("集合不存在，将创建新集合")
		return q.createCollection(ctx)
	} else if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("检查集合失败，状态码: %d, 响应: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var collectionInfo struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("读取集合信息响应失败: %w", err)
	}
	if err := json.Unmarshal(body, &collectionInfo); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("解析集合信息失败: %w", err)
	}

	existingSize := collectionInfo.Result.Config.Params.Vectors.Size
	existingDistance := collectionInfo.Result.Config.Params.Vectors.Distance
	if existingSize != q.vectorSize || existingDistance != q.distanceMetric {
		logger.Warn().
			Int("existing_size", existingSize).
			Str("existing_distance", existingDistance).
			Int("expected_size", q.vectorSize).
			Str("expected_distance", q.distanceMetric).
			Msg("现有集合配置与当前配置不匹配")
		span.AddEvent("collection_config_mismatch", trace.WithAttributes(
			attribute.Int("expected_vector_size", q.vectorSize),
			attribute.String("expected_distance", q.distanceMetric),
		))
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// createCollection 创建新的向量集合
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "create_collection"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
		attribute.String("db.vector.distance", q.distanceMetric),
	)

	createReqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}

	if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collectionName), createReqBody, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("创建集合失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已成功创建Qdrant集合")
	return nil
}

// Upsert 批量幂等写入向量，单批最多upsertBatch个点，批间短暂停顿
func (q *Qdrant) Upsert(ctx context.Context, vectors []types.Vector) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("vectors.count", len(vectors)),
	)

	if len(vectors) == 0 {
		span.SetStatus(codes.Ok, "no vectors to store")
		return nil
	}

	points := make([]map[string]interface{}, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Values) != q.vectorSize {
			err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(v.Values), q.vectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		// Qdrant只接受UUID或整数作为点ID，用确定性UUIDv5把分块ID映射过去
		pointID := uuid.NewV5(QdrantPointIDNamespace, v.ID).String()
		payload := clonePayload(v.Metadata.ToPayload())
		if payload == nil {
			payload = map[string]interface{}{}
		}
		payload["chunk_uid"] = v.ID
		points = append(points, map[string]interface{}{
			"id":      pointID,
			"vector":  v.Values,
			"payload": payload,
		})
	}

	batches := 0
	for start := 0; start < len(points); start += q.upsertBatch {
		end := start + q.upsertBatch
		if end > len(points) {
			end = len(points)
		}
		reqBody := map[string]interface{}{
			"points": points[start:end],
		}
		var result struct {
			Status string  `json:"status"`
			Time   float64 `json:"time"`
		}
		if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), reqBody, &result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("批量写入向量失败(第%d批): %w", batches+1, err)
		}
		batches++
		// 批间停顿，避免打满Qdrant写入队列
		if end < len(points) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(constants.UpsertBatchPause):
			}
		}
	}

	span.SetAttributes(attribute.Int("upsert.batches", batches))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Query 相似度搜索，过滤器被翻译为Qdrant的must/match形式
func (q *Qdrant) Query(ctx context.Context, vector []float64, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Query",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_vectors"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", topK),
		attribute.Int("query_vector.size", len(vector)),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	searchReq := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if qf := qdrantFilter(filter); qf != nil {
		searchReq["filter"] = qf
	}

	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), searchReq, &result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	searchResults := make([]SearchResult, 0, len(result.Result))
	for _, point := range result.Result {
		id := point.ID
		// 写入时在payload里保留了原始分块ID，优先还原它
		if chunkUID, ok := point.Payload["chunk_uid"].(string); ok && chunkUID != "" {
			id = chunkUID
		}
		searchResults = append(searchResults, SearchResult{
			ID:      id,
			Score:   point.Score,
			Payload: point.Payload,
		})
	}

	span.SetAttributes(
		attribute.Int("search.results.count", len(searchResults)),
		attribute.String("qdrant.response_status", result.Status),
		attribute.Float64("qdrant.response_time", result.Time),
	)
	span.SetStatus(codes.Ok, "")
	return searchResults, nil
}

// DeleteByDocID 按doc_id过滤删除全部点，零命中同样返回成功
func (q *Qdrant) DeleteByDocID(ctx context.Context, docID string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteByDocID",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("doc.id", docID),
	)

	reqBody := map[string]interface{}{
		"filter": qdrantFilter(map[string]interface{}{"doc_id": docID}),
	}

	var result struct {
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}
	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), reqBody, &result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.String("qdrant.response_status", result.Status))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Exists 通过带过滤器的计数判断文档是否已入库
func (q *Qdrant) Exists(ctx context.Context, docID string) (bool, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Exists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "count_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("doc.id", docID),
	)

	count, err := q.countPoints(ctx, qdrantFilter(map[string]interface{}{"doc_id": docID}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Int64("qdrant.points.count", count))
	span.SetStatus(codes.Ok, "")
	return count > 0, nil
}

// Stats 返回集合的点数量与已索引文档数量
// 文档数通过分页scroll去重doc_id得到，仅用于观测接口
func (q *Qdrant) Stats(ctx context.Context) (types.StoreStats, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Stats",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "stats"),
		attribute.String("db.collection", q.collectionName),
	)

	total, err := q.countPoints(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.StoreStats{}, err
	}

	docs := make(map[string]struct{})
	var offset interface{}
	// 最多翻20页，超大集合下文档数是近似值
	for page := 0; page < 20; page++ {
		scrollReq := map[string]interface{}{
			"with_payload": map[string]interface{}{"include": []string{"doc_id"}},
			"with_vector":  false,
			"limit":        1000,
		}
		if offset != nil {
			scrollReq["offset"] = offset
		}
		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", q.collectionName), scrollReq, &scrollResp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return types.StoreStats{}, err
		}
		for _, p := range scrollResp.Result.Points {
			if docID, ok := p.Payload["doc_id"].(string); ok && docID != "" {
				docs[docID] = struct{}{}
			}
		}
		if scrollResp.Result.NextPageOffset == nil {
			break
		}
		offset = scrollResp.Result.NextPageOffset
	}

	span.SetAttributes(
		attribute.Int64("stats.vector_count", total),
		attribute.Int("stats.document_count", len(docs)),
	)
	span.SetStatus(codes.Ok, "")
	return types.StoreStats{
		VectorCount:   total,
		DocumentCount: int64(len(docs)),
		Backend:       "qdrant",
	}, nil
}

// countPoints 精确计数，filter为nil时统计整个集合
func (q *Qdrant) countPoints(ctx context.Context, filter map[string]interface{}) (int64, error) {
	countReqBody := map[string]interface{}{
		"exact": true,
	}
	if filter != nil {
		countReqBody["filter"] = filter
	}

	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName), countReqBody, &result); err != nil {
		return 0, err
	}
	return result.Result.Count, nil
}

// qdrantFilter 把等值过滤器翻译为Qdrant的must/match格式
func qdrantFilter(filter map[string]interface{}) map[string]interface{} {
	eq := NormalizeFilter(filter)
	if len(eq) == 0 {
		return nil
	}
	must := make([]map[string]interface{}, 0, len(eq))
	for field, value := range eq {
		must = append(must, map[string]interface{}{
			"key": field,
			"match": map[string]interface{}{
				"value": value,
			},
		})
	}
	return map[string]interface{}{"must": must}
}

func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var req *http.Request
	var err error

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, bytes.NewBuffer(jsonBody))
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, nil)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	span.SetAttributes(attribute.Int("http.response.body.size", len(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, string(respBody))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
