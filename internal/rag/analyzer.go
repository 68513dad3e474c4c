package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outreach-agent-go/internal/agent"
	"outreach-agent-go/internal/constants"
	"outreach-agent-go/internal/tracing"
	"outreach-agent-go/internal/types"
)

const analyzerSystemPrompt = `You are an expert technical recruiter and career analyst. Analyze résumé content and respond ONLY with a valid JSON object. Cite concrete evidence from the provided content for every claim. Explicitly flag gaps, inconsistencies, or missing information. Do not invent facts that are not present in the content.`

const analyzerUserTemplate = `Analyze the following résumé content and answer the task.

Résumé content:
%s

Task: %s

Respond with a JSON object containing: candidate_name, years_of_experience, current_role, top_skills, key_projects, education, strengths, red_flags, summary.`

const jobFitBlock = `

Additionally, evaluate fit against the job requirements and include a "job_fit_analysis" object with: fit_score (0-100), matching_skills, missing_skills, recommendation.`

// 岗位描述拼进检索查询时的截断长度
const jobDescQueryLimit = 500

// 引用片段的截断长度
const sourceSnippetLimit = 100

// AnalyzeRequest 一次分析请求
type AnalyzeRequest struct {
	Query          string
	JobDescription string
	UserID         string
	DocID          string
	TopK           int
}

// Analyzer 基于检索上下文回答简历分析问题
type Analyzer struct {
	retriever *Retriever
	model     agent.StructuredChatModel
}

// NewAnalyzer 创建分析器
func NewAnalyzer(retriever *Retriever, model agent.StructuredChatModel) *Analyzer {
	return &Analyzer{
		retriever: retriever,
		model:     model,
	}
}

// buildFilter 按 docId 优先、userId 兜底构造检索过滤器
func (a *Analyzer) buildFilter(req AnalyzeRequest) map[string]interface{} {
	if req.DocID != "" {
		return DocFilter(req.DocID)
	}
	if req.UserID != "" {
		return UserFilter(req.UserID)
	}
	return nil
}

// Analyze 检索→组装提示词→结构化对话→归一化→回填来源
func (a *Analyzer) Analyze(ctx context.Context, req AnalyzeRequest) (*types.AnalysisResult, error) {
	ctx, span := ragTracer.Start(ctx, "Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("doc.id", req.DocID),
			attribute.String("query", tracing.SafeQuery(req.Query)),
			attribute.Bool("has_job_description", req.JobDescription != ""),
		))
	defer span.End()

	started := time.Now()

	retrievalQuery := req.Query
	if req.JobDescription != "" {
		retrievalQuery = req.Query + "\n\nJob Requirements: " + truncateRunes(req.JobDescription, jobDescQueryLimit)
	}

	chunks, err := a.retriever.RetrieveContext(ctx, retrievalQuery, a.buildFilter(req), req.TopK)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		span.AddEvent("no_context")
		span.SetStatus(codes.Ok, "no context")
		return &types.AnalysisResult{
			Success: false,
			Reason:  fmt.Sprintf("%s，请先上传并索引简历", ErrNoContext),
			Metadata: types.AnalysisMetadata{
				QueryUsed: retrievalQuery,
			},
		}, nil
	}

	task := req.Query
	if req.JobDescription != "" {
		task += jobFitBlock
	}
	userPrompt := fmt.Sprintf(analyzerUserTemplate, FormatContext(chunks), task)

	chatCtx, cancelChat := context.WithTimeout(ctx, constants.ChatOpTimeout)
	raw, err := a.model.Chat(chatCtx, agent.ChatRequest{
		System:       analyzerSystemPrompt,
		User:         userPrompt,
		Temperature:  0.3,
		JSONResponse: true,
	})
	cancelChat()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewPipelineError(req.DocID, StepAnalysis, ErrAnalysisFailed, err.Error())
	}

	parsed, err := parseModelJSON(raw)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, NewPipelineError(req.DocID, StepAnalysis, ErrAnalysisFailed, fmt.Sprintf("模型输出不是合法JSON: %v", err))
	}

	profile := normalizeProfile(parsed)
	// 来源永远由检索元数据回填，不信任模型输出
	profile.Sources = buildSources(chunks)

	span.SetAttributes(attribute.Int("chunks.analyzed", len(chunks)))
	span.SetStatus(codes.Ok, "")
	return &types.AnalysisResult{
		Success: true,
		Data:    profile,
		Metadata: types.AnalysisMetadata{
			ChunksAnalyzed:     len(chunks),
			QueryUsed:          retrievalQuery,
			HasJobFitAnalysis:  profile.JobFitAnalysis != nil,
			AnalysisDurationMS: time.Since(started).Milliseconds(),
		},
	}, nil
}

// AnalyzeSkillMatch 独立的技能匹配检查，不经过大模型
// 对检索到的top-10分块做大小写不敏感的子串匹配
func (a *Analyzer) AnalyzeSkillMatch(ctx context.Context, requiredSkills []string, filter map[string]interface{}) (*types.SkillMatchResult, error) {
	ctx, span := ragTracer.Start(ctx, "Analyzer.AnalyzeSkillMatch",
		trace.WithAttributes(
			attribute.Int("skills.required", len(requiredSkills)),
		))
	defer span.End()

	query := "Find experience with: " + strings.Join(requiredSkills, ", ")
	chunks, err := a.retriever.RetrieveContext(ctx, query, filter, 10)
	if err != nil {
		return nil, err
	}

	result := &types.SkillMatchResult{
		TotalRequired: len(requiredSkills),
		Details:       make(map[string]types.SkillEvidence, len(requiredSkills)),
	}

	for _, skill := range requiredSkills {
		lowerSkill := strings.ToLower(skill)
		evidence := types.SkillEvidence{}
		for _, chunk := range chunks {
			snippet, ok := evidenceSnippet(chunk.PageContent, lowerSkill)
			if !ok {
				continue
			}
			evidence.Found = true
			evidence.Evidence = append(evidence.Evidence, snippet)
		}
		if evidence.Found {
			result.FoundSkills = append(result.FoundSkills, skill)
		} else {
			result.MissingSkills = append(result.MissingSkills, skill)
		}
		result.Details[skill] = evidence
	}

	result.TotalFound = len(result.FoundSkills)
	rate := 0.0
	if result.TotalRequired > 0 {
		rate = float64(result.TotalFound) / float64(result.TotalRequired) * 100
	}
	result.MatchRate = fmt.Sprintf("%.1f%%", rate)

	span.SetAttributes(
		attribute.Int("skills.found", result.TotalFound),
		attribute.String("skills.match_rate", result.MatchRate),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// evidenceSnippet 在分块里找技能词，命中时返回前后各50字符的证据片段
func evidenceSnippet(content, lowerSkill string) (string, bool) {
	lowerContent := strings.ToLower(content)
	idx := strings.Index(lowerContent, lowerSkill)
	if idx < 0 {
		return "", false
	}

	runes := []rune(content)
	// 字节下标换算成rune下标
	runeIdx := len([]rune(content[:idx]))
	skillRunes := len([]rune(lowerSkill))

	start := runeIdx - 50
	if start < 0 {
		start = 0
	}
	end := runeIdx + skillRunes + 50
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[start:end])), true
}

// buildSources 从检索元数据构造引用列表
func buildSources(chunks []types.Chunk) []types.SourceCitation {
	sources := make([]types.SourceCitation, 0, len(chunks))
	for _, chunk := range chunks {
		section := chunk.Metadata.Section
		if section == "" {
			section = string(types.SectionUnknown)
		}
		sources = append(sources, types.SourceCitation{
			Section:   section,
			Relevance: fmt.Sprintf("%.1f%%", chunk.Score*100),
			KeyInfo:   truncateRunes(chunk.PageContent, sourceSnippetLimit),
		})
	}
	return sources
}

// parseModelJSON 解析模型输出，容忍markdown代码块包裹
func parseModelJSON(raw string) (map[string]interface{}, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// normalizeProfile 把键名风格不稳定的模型输出归一化为规范结构
func normalizeProfile(raw map[string]interface{}) *types.ResumeProfile {
	profile := &types.ResumeProfile{
		CandidateName:     asString(pick(raw, "candidate_name", "name", "candidateName", "full_name", "fullName")),
		YearsOfExperience: asFloat(pick(raw, "years_of_experience", "yearsOfExperience", "experience_years", "totalExperience")),
		CurrentRole:       asString(pick(raw, "current_role", "currentRole", "role", "position", "title")),
		TopSkills:         asStringSlice(pick(raw, "top_skills", "topSkills", "skills", "technical_skills", "technicalSkills")),
		KeyProjects:       asProjects(pick(raw, "key_projects", "keyProjects", "projects", "notable_projects")),
		Education:         asEducation(pick(raw, "education", "educations", "education_history")),
		Strengths:         asStringSlice(pick(raw, "strengths", "strong_points")),
		RedFlags:          asRedFlags(pick(raw, "red_flags", "redFlags", "concerns", "potential_concerns", "warnings")),
		Summary:           asString(pick(raw, "summary", "overview", "profile_summary")),
	}
	profile.JobFitAnalysis = asJobFit(raw)
	return profile
}

// pick 按优先级取第一个存在的键
func pick(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		// 模型偶尔返回 "5 years" 这类字符串，取前导数字
		trimmed := strings.TrimSpace(n)
		end := 0
		for end < len(trimmed) && (trimmed[end] == '.' || (trimmed[end] >= '0' && trimmed[end] <= '9')) {
			end++
		}
		if end > 0 {
			if f, err := strconv.ParseFloat(trimmed[:end], 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// asStringSlice 数组转字符串切片，对象被强转为其键的集合
func asStringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := asString(item); s != "" {
				out = append(out, s)
			} else if m, ok := item.(map[string]interface{}); ok {
				// [{"skill": "Go"}] 之类的包装对象，取第一个字符串值
				if s := firstStringValue(m); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return nil
}

func firstStringValue(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func asProjects(v interface{}) []types.KeyProject {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]types.KeyProject, 0, len(items))
	for _, item := range items {
		switch p := item.(type) {
		case map[string]interface{}:
			out = append(out, types.KeyProject{
				Name:      asString(pick(p, "name", "project_name", "title")),
				TechStack: asStringSlice(pick(p, "tech_stack", "techStack", "technologies", "stack")),
				Impact:    asString(pick(p, "impact", "result", "outcome", "description")),
			})
		case string:
			out = append(out, types.KeyProject{Name: p})
		}
	}
	return out
}

func asEducation(v interface{}) []types.EducationEntry {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]types.EducationEntry, 0, len(items))
	for _, item := range items {
		switch e := item.(type) {
		case map[string]interface{}:
			out = append(out, types.EducationEntry{
				Degree:      asString(pick(e, "degree", "qualification")),
				Institution: asString(pick(e, "institution", "school", "university")),
				Year:        asString(pick(e, "year", "graduation_year", "dates")),
				Highlights:  asString(pick(e, "highlights", "notes", "details")),
			})
		case string:
			out = append(out, types.EducationEntry{Degree: e})
		}
	}
	return out
}

func asRedFlags(v interface{}) []types.RedFlag {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]types.RedFlag, 0, len(items))
	for _, item := range items {
		switch f := item.(type) {
		case map[string]interface{}:
			severity := strings.ToLower(asString(pick(f, "severity", "level")))
			if severity == "" {
				severity = "medium"
			}
			out = append(out, types.RedFlag{
				Flag:     asString(pick(f, "flag", "concern", "issue", "description")),
				Severity: severity,
				Evidence: asString(pick(f, "evidence", "details", "reason")),
			})
		case string:
			out = append(out, types.RedFlag{Flag: f, Severity: "medium"})
		}
	}
	return out
}

// asJobFit 提取岗位匹配子结构，找不到完整对象时从顶层散落字段合成
func asJobFit(raw map[string]interface{}) *types.JobFitAnalysis {
	if v := pick(raw, "job_fit_analysis", "jobFitAnalysis", "fit_analysis"); v != nil {
		if m, ok := v.(map[string]interface{}); ok {
			return &types.JobFitAnalysis{
				FitScore:       asFloat(pick(m, "fit_score", "fitScore", "score")),
				MatchingSkills: asStringSlice(pick(m, "matching_skills", "matchingSkills")),
				MissingSkills:  asStringSlice(pick(m, "missing_skills", "missingSkills")),
				Recommendation: asString(pick(m, "recommendation", "verdict")),
			}
		}
	}

	// 顶层散落的 fit_score / matching_skills 等字段
	if pick(raw, "fit_score", "fitScore") == nil &&
		pick(raw, "matching_skills", "matchingSkills") == nil &&
		pick(raw, "missing_skills", "missingSkills") == nil {
		return nil
	}
	return &types.JobFitAnalysis{
		FitScore:       asFloat(pick(raw, "fit_score", "fitScore")),
		MatchingSkills: asStringSlice(pick(raw, "matching_skills", "matchingSkills")),
		MissingSkills:  asStringSlice(pick(raw, "missing_skills", "missingSkills")),
		Recommendation: asString(pick(raw, "recommendation")),
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
