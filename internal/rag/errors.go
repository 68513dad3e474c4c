package rag

import (
	"errors"
	"fmt"
)

// 管道步骤名，错误携带步骤信息供上层映射为HTTP状态码
// 摄取路径只会对外暴露 extraction/validation/parsing/saving/indexing；
// 向量化失败归入indexing，细节留在Detail与底层错误里
const (
	StepExtraction = "extraction"
	StepValidation = "validation"
	StepParsing    = "parsing"
	StepSaving     = "saving"
	StepIndexing   = "indexing"
	StepRetrieval  = "retrieval"
	StepAnalysis   = "analysis"
)

// 基础错误，支持errors.Is判定
var (
	// ErrEmbeddingFailed 向量化调用失败
	ErrEmbeddingFailed = errors.New("向量化失败")
	// ErrIndexingFailed 向量入库失败
	ErrIndexingFailed = errors.New("向量入库失败")
	// ErrAnalysisFailed 模型分析失败
	ErrAnalysisFailed = errors.New("简历分析失败")
	// ErrNoContext 检索不到任何简历内容
	ErrNoContext = errors.New("未检索到简历内容")
	// ErrIngestInProgress 文档正在被其他请求摄取
	ErrIngestInProgress = errors.New("文档正在摄取中")
)

// PipelineError 管道错误，携带文档ID与失败步骤
type PipelineError struct {
	DocID   string
	Step    string
	BaseErr error
	Detail  string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (步骤:%s, 文档:%s): %s", e.BaseErr, e.Step, e.DocID, e.Detail)
	}
	return fmt.Sprintf("%s (步骤:%s, 文档:%s)", e.BaseErr, e.Step, e.DocID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// NewPipelineError 构造管道错误
func NewPipelineError(docID, step string, baseErr error, detail string) error {
	return &PipelineError{
		DocID:   docID,
		Step:    step,
		BaseErr: baseErr,
		Detail:  detail,
	}
}

// StepOf 提取错误所属的管道步骤，非管道错误返回空串
func StepOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Step
	}
	return ""
}
