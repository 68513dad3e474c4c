package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

const (
	// DashScope的OpenAI兼容端点
	openAICompatibleQwenAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName       = "qwen-plus"
)

// ChatRequest 一次结构化对话请求
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	// JSONResponse 为true时要求模型返回JSON对象（response_format: json_object）
	JSONResponse bool
}

// StructuredChatModel 结构化输出的对话模型能力
// 返回值为模型输出的原始内容字符串；JSONResponse时应为JSON文本
type StructuredChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// AliyunQwenChatModel 与阿里云通义千问模型交互的 StructuredChatModel 实现
type AliyunQwenChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
}

// NewAliyunQwenChatModel 创建一个新的 AliyunQwenChatModel 实例
func NewAliyunQwenChatModel(apiKey string, modelName string, apiURL string) (*AliyunQwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultQwenModelName
	}

	url := apiURL
	if strings.TrimSpace(url) == "" {
		url = openAICompatibleQwenAPIURL
	}

	return &AliyunQwenChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		apiURL:     url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// --- OpenAI兼容的请求/响应结构 ---

type openAIResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

type openAIChatCompletionRequest struct {
	Model          string                `json:"model"`
	Messages       []*schema.Message     `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type openAIChatChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAICompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
}

// Chat 实现 StructuredChatModel 接口
func (aq *AliyunQwenChatModel) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]*schema.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	messages = append(messages, schema.UserMessage(req.User))

	apiReq := openAIChatCompletionRequest{
		Model:       aq.modelName,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.JSONResponse {
		apiReq.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(apiReq)
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, aq.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+aq.apiKey)

	resp, err := aq.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var completionResp openAICompletionResponse
	if err := json.Unmarshal(body, &completionResp); err != nil {
		return "", fmt.Errorf("解析响应失败: %w, 响应体: %s", err, string(body))
	}

	if len(completionResp.Choices) == 0 {
		return "", fmt.Errorf("API响应不包含choices")
	}
	if completionResp.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("API响应content为空")
	}

	return *completionResp.Choices[0].Message.Content, nil
}
