package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"outreach-agent-go/internal/config"
)

// AliyunEmbedder 基于阿里云DashScope的OpenAI兼容embedding服务
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	baseURL    string
}

// NewAliyunEmbedder 创建新的阿里云Embedder (OpenAI兼容端点)
func NewAliyunEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig) (*AliyunEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	dimensions := embeddingCfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}

	return &AliyunEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// Dimensions 返回嵌入器配置的维度
func (a *AliyunEmbedder) Dimensions() int {
	return a.dimensions
}

// openAIEmbeddingRequest OpenAI兼容的Embedding请求结构
type openAIEmbeddingRequest struct {
	Input          interface{} `json:"input"` // string 或 []string
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

// openAIEmbeddingResponse OpenAI兼容的Embedding响应结构
type openAIEmbeddingResponse struct {
	Object string               `json:"object"`
	Data   []openAIDataEntry    `json:"data"`
	Model  string               `json:"model"`
	Usage  openAIEmbeddingUsage `json:"usage"`
	// HTTP 200 但API返回错误对象的情况
	Error *openAIAPIError `json:"error,omitempty"`
}

type openAIDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type openAIEmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type openAIAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	Code    string `json:"code"`
}

// EmbedDocuments 将一批文本转换为向量，保持输入顺序
// 批次内任何失败都是整体失败，不产生部分结果
func (a *AliyunEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := openAIEmbeddingRequest{
		Input:      inputBody,
		Model:      a.model,
		Dimensions: a.dimensions,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiError openAIAPIError
		if json.Unmarshal(body, &apiError) == nil && apiError.Message != "" {
			return nil, fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s, Code: %s",
				resp.StatusCode, apiError.Type, apiError.Message, apiError.Code)
		}
		return nil, fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var embeddingResp openAIEmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, fmt.Errorf("解析OpenAI兼容响应失败: %w", err)
	}

	if embeddingResp.Error != nil && embeddingResp.Error.Message != "" {
		return nil, fmt.Errorf("嵌入API调用失败(响应内错误): 类型: %s, 错误: %s, Code: %s",
			embeddingResp.Error.Type, embeddingResp.Error.Message, embeddingResp.Error.Code)
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("嵌入数量不匹配: 期望 %d, 实际 %d", len(texts), len(embeddingResp.Data))
	}

	// 按index归位，保证输出顺序与输入一致
	embeddings := make([][]float64, len(embeddingResp.Data))
	for _, item := range embeddingResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("嵌入数据索引 %d 超出范围 %d", item.Index, len(embeddings)-1)
		}
		if len(item.Embedding) != a.dimensions {
			return nil, fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(item.Embedding), a.dimensions)
		}
		embeddings[item.Index] = item.Embedding
	}

	return embeddings, nil
}

// EmbedQuery 将单条查询文本转换为向量
func (a *AliyunEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := a.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("查询嵌入返回了 %d 个向量", len(embeddings))
	}
	return embeddings[0], nil
}
