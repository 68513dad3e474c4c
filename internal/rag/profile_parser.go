package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outreach-agent-go/internal/agent"
	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/tracing"
	"outreach-agent-go/internal/types"
)

const resumeParserSystemPrompt = `You are a résumé parsing engine. Extract structured data from the résumé text and respond ONLY with a valid JSON object with exactly these fields: fullName (string), currentRole (string), yearsOfExperience (number), skills (array of strings), summary (string), experiences (array of {company, role, duration, description}), cleanedText (string, the résumé text with noise removed). Normalize skill names to common industry terms, e.g. "JavaScript" not "JS", "PostgreSQL" not "postgres". Use empty values for fields that cannot be determined. Do not invent information.`

// ResumeParser 与向量索引并行的结构化解析轨道
// 解析失败不影响索引流程
type ResumeParser struct {
	model agent.StructuredChatModel
	store UserStore
	// modelName 记录到画像持久化里，便于追溯解析器版本
	modelName string
	// maxChars 送入模型前的输入截断长度
	maxChars int
}

// NewResumeParser 创建简历解析器
func NewResumeParser(model agent.StructuredChatModel, store UserStore, modelName string, maxChars int) *ResumeParser {
	if maxChars <= 0 {
		maxChars = 15000
	}
	return &ResumeParser{
		model:     model,
		store:     store,
		modelName: modelName,
		maxChars:  maxChars,
	}
}

// Parse 调用模型把简历文本解析为结构化画像
func (p *ResumeParser) Parse(ctx context.Context, text string) (*types.ParsedResume, error) {
	ctx, span := ragTracer.Start(ctx, "ResumeParser.Parse",
		trace.WithAttributes(
			attribute.Int("text.length", len(text)),
		))
	defer span.End()

	input := truncateRunes(text, p.maxChars)

	chatCtx, cancel := context.WithTimeout(ctx, constants.ChatOpTimeout)
	raw, err := p.model.Chat(chatCtx, agent.ChatRequest{
		System:       resumeParserSystemPrompt,
		User:         input,
		Temperature:  0.1,
		JSONResponse: true,
	})
	cancel()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("简历解析模型调用失败: %w", err)
	}

	cleaned, err := parseModelJSON(raw)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("简历解析输出不是合法JSON: %w", err)
	}

	// 经过一次map中转，容忍模型多给的字段
	data, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("重编码解析结果失败: %w", err)
	}
	var parsed types.ParsedResume
	if err := json.Unmarshal(data, &parsed); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("解析结果结构不符: %w", err)
	}

	span.SetAttributes(
		attribute.String("resume.name", tracing.SafeAttributeValue("name", parsed.FullName, tracing.DefaultMaxLength)),
		attribute.Int("resume.skills", len(parsed.Skills)),
	)
	span.SetStatus(codes.Ok, "")
	return &parsed, nil
}

// ParseAndPersist 解析并写入UserStore，任何失败只告警不返回错误
// 返回值为nil表示解析失败；持久化失败只告警，解析结果照常返回
func (p *ResumeParser) ParseAndPersist(ctx context.Context, userID, docID, text string) *types.ParsedResume {
	parsed, err := p.Parse(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Str("doc_id", docID).Str("step", StepParsing).Msg("简历结构化解析失败，索引流程继续")
		return nil
	}

	if p.store != nil && userID != "" {
		if err := p.store.PutResumeProfile(ctx, userID, docID, p.modelName, parsed); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Str("step", StepSaving).Msg("简历画像持久化失败")
		}
	}
	return parsed
}
