package parser

import (
	"errors"
	"fmt"
	"strings"

	"outreach-agent-go/internal/types"
)

// ErrInvalidDocument 校验未通过的基础错误
var ErrInvalidDocument = errors.New("文档校验未通过")

// InvalidDocumentError 携带具体检查项的校验错误
type InvalidDocumentError struct {
	// Check 失败的检查项: content_exists, length, keywords
	Check string
	// Type 细分类型，length检查为 too_short / too_long
	Type    string
	Details string
}

func (e *InvalidDocumentError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (检查:%s, 类型:%s): %s", ErrInvalidDocument, e.Check, e.Type, e.Details)
	}
	return fmt.Sprintf("%s (检查:%s): %s", ErrInvalidDocument, e.Check, e.Details)
}

func (e *InvalidDocumentError) Unwrap() error {
	return ErrInvalidDocument
}

// defaultResumeKeywords 内置的双语简历词表
// 英文词小写存储，匹配时不区分大小写；中文词按字节精确匹配
var defaultResumeKeywords = []string{
	"experience", "education", "skills", "resume", "curriculum vitae",
	"employment", "work history", "qualification", "summary", "objective",
	"project", "university", "degree", "certification", "internship",
	"简历", "教育", "经历", "工作", "技能", "项目", "学历", "实习",
	"个人简介", "求职", "专业", "毕业", "证书",
}

// ValidatorConfig 校验器配置，所有阈值显式传入
type ValidatorConfig struct {
	MinLength          int
	MaxLength          int
	KeywordCheckLength int
	MinKeywordMatches  int
	Keywords           []string
}

// ResumeValidator 快速拒绝非简历文档，确定性且无副作用
type ResumeValidator struct {
	config ValidatorConfig
}

// NewResumeValidator 创建简历校验器
func NewResumeValidator(config ValidatorConfig) *ResumeValidator {
	if config.MinLength <= 0 {
		config.MinLength = 50
	}
	if config.MaxLength <= 0 {
		config.MaxLength = 100000
	}
	if config.KeywordCheckLength <= 0 {
		config.KeywordCheckLength = 2000
	}
	if config.MinKeywordMatches <= 0 {
		config.MinKeywordMatches = 2
	}
	if len(config.Keywords) == 0 {
		config.Keywords = defaultResumeKeywords
	}
	return &ResumeValidator{config: config}
}

// Validate 按顺序执行检查: 内容存在 → 长度界限 → 关键词
func (v *ResumeValidator) Validate(text string) (*types.ValidationResult, error) {
	// 1. 内容存在
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidDocumentError{
			Check:   "content_exists",
			Details: "文档内容为空",
		}
	}

	// 2. 长度界限
	textLen := len([]rune(text))
	if textLen < v.config.MinLength {
		return nil, &InvalidDocumentError{
			Check:   "length",
			Type:    "too_short",
			Details: fmt.Sprintf("文本长度 %d 低于下限 %d", textLen, v.config.MinLength),
		}
	}
	if textLen > v.config.MaxLength {
		return nil, &InvalidDocumentError{
			Check:   "length",
			Type:    "too_long",
			Details: fmt.Sprintf("文本长度 %d 超过上限 %d", textLen, v.config.MaxLength),
		}
	}

	// 3. 关键词：只看前 KeywordCheckLength 个字符
	head := text
	if runes := []rune(text); len(runes) > v.config.KeywordCheckLength {
		head = string(runes[:v.config.KeywordCheckLength])
	}
	headLower := strings.ToLower(head)

	var found []string
	for _, keyword := range v.config.Keywords {
		if isLatinKeyword(keyword) {
			// 英文关键词不区分大小写
			if strings.Contains(headLower, strings.ToLower(keyword)) {
				found = append(found, keyword)
			}
		} else if strings.Contains(head, keyword) {
			// CJK关键词按字节精确匹配
			found = append(found, keyword)
		}
	}

	if len(found) < v.config.MinKeywordMatches {
		return nil, &InvalidDocumentError{
			Check: "keywords",
			Details: fmt.Sprintf("前 %d 字符中仅命中 %d 个简历关键词（要求 %d）",
				v.config.KeywordCheckLength, len(found), v.config.MinKeywordMatches),
		}
	}

	result := &types.ValidationResult{
		TextLength:    textLen,
		KeywordsFound: found,
	}
	if textLen > 50000 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("文档较长 (%d 字符)，分块与嵌入可能较慢", textLen))
	}
	return result, nil
}

// isLatinKeyword 判断关键词是否为纯ASCII（英文词表）
func isLatinKeyword(keyword string) bool {
	for _, r := range keyword {
		if r > 127 {
			return false
		}
	}
	return true
}
