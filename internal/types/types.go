package types

import (
	"fmt"
)

// SectionTag 表示简历章节的规范标签
type SectionTag string

const (
	// SectionHeader 简历头部（第一个章节标记之前的内容）
	SectionHeader SectionTag = "header"
	// SectionSummary 个人简介章节
	SectionSummary SectionTag = "summary"
	// SectionEducation 教育背景章节
	SectionEducation SectionTag = "education"
	// SectionExperience 工作经历章节
	SectionExperience SectionTag = "experience"
	// SectionSkills 技能章节
	SectionSkills SectionTag = "skills"
	// SectionProjects 项目经验章节
	SectionProjects SectionTag = "projects"
	// SectionCertifications 证书章节
	SectionCertifications SectionTag = "certifications"
	// SectionFullResume 未检测到任何章节时的整体标签
	SectionFullResume SectionTag = "full_resume"
	// SectionUnknown 未分类内容
	SectionUnknown SectionTag = "unknown"
)

// ChunkMetadata 每个分块携带的完整元数据，必须能在向量库payload中往返
type ChunkMetadata struct {
	DocID           string `json:"doc_id"`
	UserID          string `json:"user_id"`
	Source          string `json:"source"`
	UploadTimestamp string `json:"upload_timestamp"`
	Section         string `json:"section"`
	ChunkIndex      int    `json:"chunk_index"`
	ChunkTotal      int    `json:"chunk_total"`
	CharCount       int    `json:"char_count"`
	SectionStart    int    `json:"section_start"`
	// Text 是 PageContent 截断到1000字符的副本，向量库只返回payload时使用
	Text string `json:"text"`
}

// ToPayload 转换为向量库payload格式
func (m *ChunkMetadata) ToPayload() map[string]interface{} {
	return map[string]interface{}{
		"doc_id":           m.DocID,
		"user_id":          m.UserID,
		"source":           m.Source,
		"upload_timestamp": m.UploadTimestamp,
		"section":          m.Section,
		"chunk_index":      m.ChunkIndex,
		"chunk_total":      m.ChunkTotal,
		"char_count":       m.CharCount,
		"section_start":    m.SectionStart,
		"text":             m.Text,
	}
}

// MetadataFromPayload 从向量库payload还原元数据
// 数值字段在JSON往返后会变成float64，这里统一转回int
func MetadataFromPayload(payload map[string]interface{}) ChunkMetadata {
	m := ChunkMetadata{}
	if payload == nil {
		return m
	}
	m.DocID = payloadString(payload, "doc_id")
	m.UserID = payloadString(payload, "user_id")
	m.Source = payloadString(payload, "source")
	m.UploadTimestamp = payloadString(payload, "upload_timestamp")
	m.Section = payloadString(payload, "section")
	m.ChunkIndex = payloadInt(payload, "chunk_index")
	m.ChunkTotal = payloadInt(payload, "chunk_total")
	m.CharCount = payloadInt(payload, "char_count")
	m.SectionStart = payloadInt(payload, "section_start")
	m.Text = payloadString(payload, "text")
	return m
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	}
	return 0
}

// Chunk 归一化文本的一个有界、可重叠的切片，携带章节元数据
type Chunk struct {
	// ID 格式固定为 {docId}_chunk_{index}
	ID          string        `json:"id"`
	PageContent string        `json:"page_content"`
	Metadata    ChunkMetadata `json:"metadata"`
	// Score 检索返回时的相似度分数（余弦，[-1,1]），入库时为0
	Score float64 `json:"score,omitempty"`
}

// ChunkID 生成确定性的分块ID
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}

// Vector 待入库的向量点，向量与payload必须原子写入
type Vector struct {
	ID       string
	Values   []float64
	Metadata ChunkMetadata
}

// ChunkStats 分块统计信息，随IngestResult返回
type ChunkStats struct {
	Count        int      `json:"count"`
	AvgLength    int      `json:"avg_length"`
	MinLength    int      `json:"min_length"`
	MaxLength    int      `json:"max_length"`
	Sections     []string `json:"sections"`
	SectionCount int      `json:"section_count"`
}

// ValidationResult 校验通过时的产出
type ValidationResult struct {
	TextLength    int      `json:"text_length"`
	KeywordsFound []string `json:"keywords_found"`
	Warnings      []string `json:"warnings"`
}

// IngestResult 一次完整摄取的结果
type IngestResult struct {
	DocID         string     `json:"doc_id"`
	ChunksIndexed int        `json:"chunks_indexed"`
	Stats         ChunkStats `json:"stats"`
	VectorIndexed bool       `json:"vector_indexed"`
	// Profile 并行解析轨道的产物，解析失败时为nil
	Profile *ParsedResume `json:"profile,omitempty"`
}

// KeyProject 简历中的重点项目
type KeyProject struct {
	Name        string   `json:"name"`
	TechStack   []string `json:"tech_stack"`
	Impact      string   `json:"impact"`
	SourceChunk string   `json:"source_chunk,omitempty"`
}

// EducationEntry 教育经历条目
type EducationEntry struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Year        string `json:"year"`
	Highlights  string `json:"highlights"`
}

// RedFlag 分析发现的风险点
type RedFlag struct {
	Flag     string `json:"flag"`
	Severity string `json:"severity"` // low, medium, high
	Evidence string `json:"evidence"`
}

// JobFitAnalysis 岗位匹配度子结构，仅在提供岗位描述时出现
type JobFitAnalysis struct {
	FitScore       float64  `json:"fit_score"` // 0-100
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Recommendation string   `json:"recommendation"`
}

// SourceCitation 检索来源引用，由核心从检索元数据填充，不信任模型输出
type SourceCitation struct {
	Section   string `json:"section"`
	Relevance string `json:"relevance"`
	KeyInfo   string `json:"key_info"`
}

// ResumeProfile 规范化后的分析结果
type ResumeProfile struct {
	CandidateName     string           `json:"candidate_name"`
	YearsOfExperience float64          `json:"years_of_experience"`
	CurrentRole       string           `json:"current_role"`
	TopSkills         []string         `json:"top_skills"`
	KeyProjects       []KeyProject     `json:"key_projects"`
	Education         []EducationEntry `json:"education"`
	Strengths         []string         `json:"strengths"`
	RedFlags          []RedFlag        `json:"red_flags"`
	JobFitAnalysis    *JobFitAnalysis  `json:"job_fit_analysis,omitempty"`
	Summary           string           `json:"summary"`
	Sources           []SourceCitation `json:"sources"`
}

// AnalysisMetadata 分析过程的附加信息
type AnalysisMetadata struct {
	ChunksAnalyzed     int    `json:"chunks_analyzed"`
	QueryUsed          string `json:"query_used"`
	HasJobFitAnalysis  bool   `json:"has_job_fit_analysis"`
	AnalysisDurationMS int64  `json:"analysis_duration_ms,omitempty"`
}

// AnalysisResult 一次分析调用的结果
type AnalysisResult struct {
	Success  bool             `json:"success"`
	Data     *ResumeProfile   `json:"data,omitempty"`
	Metadata AnalysisMetadata `json:"metadata"`
	// Reason 失败原因，例如检索不到任何简历内容
	Reason string `json:"reason,omitempty"`
}

// SkillEvidence 单个技能的匹配明细
type SkillEvidence struct {
	Found    bool     `json:"found"`
	Evidence []string `json:"evidence,omitempty"`
}

// SkillMatchResult 技能匹配的汇总结果
type SkillMatchResult struct {
	TotalRequired int                      `json:"total_required"`
	TotalFound    int                      `json:"total_found"`
	MatchRate     string                   `json:"match_rate"` // "xx.x%"
	FoundSkills   []string                 `json:"found_skills"`
	MissingSkills []string                 `json:"missing_skills"`
	Details       map[string]SkillEvidence `json:"details"`
}

// ParsedResume 简历解析器（与RAG索引并行的结构化轨道）的输出
type ParsedResume struct {
	FullName          string       `json:"fullName"`
	CurrentRole       string       `json:"currentRole"`
	YearsOfExperience float64      `json:"yearsOfExperience"`
	Skills            []string     `json:"skills"`
	Summary           string       `json:"summary"`
	Experiences       []Experience `json:"experiences"`
	CleanedText       string       `json:"cleanedText"`
}

// Experience 一段工作经历
type Experience struct {
	Company     string `json:"company"`
	Role        string `json:"role"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
}

// StoreStats 向量库的可观测性统计
type StoreStats struct {
	VectorCount   int64  `json:"vector_count"`
	DocumentCount int64  `json:"document_count,omitempty"`
	Backend       string `json:"backend"` // "memory" 或 "external"
}
