package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 一份能通过默认校验的英文简历头部
const validEnglishResume = `John Doe
Senior Software Engineer

SUMMARY
Backend engineer with 8 years of experience building distributed systems in Go.

EDUCATION
B.S. Computer Science, Example University, 2015

SKILLS
Go, Kubernetes, PostgreSQL, Redis
`

func TestValidatorAcceptsEnglishResume(t *testing.T) {
	v := NewResumeValidator(ValidatorConfig{})
	result, err := v.Validate(validEnglishResume)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, len([]rune(validEnglishResume)), result.TextLength)
	// summary / experience / education / skills 都应命中
	assert.GreaterOrEqual(t, len(result.KeywordsFound), 2)
	assert.Empty(t, result.Warnings)
}

func TestValidatorAcceptsChineseResume(t *testing.T) {
	text := `张三
资深后端工程师

教育背景
某大学 计算机科学 本科

工作经历
某公司 后端开发 2019-2024

专业技能
Go、MySQL、Redis、Kafka
` + strings.Repeat("负责核心服务的设计与开发。", 10)

	v := NewResumeValidator(ValidatorConfig{})
	result, err := v.Validate(text)
	require.NoError(t, err)
	assert.Contains(t, result.KeywordsFound, "教育")
	assert.Contains(t, result.KeywordsFound, "技能")
}

func TestValidatorRejectsEmptyContent(t *testing.T) {
	v := NewResumeValidator(ValidatorConfig{})

	for _, text := range []string{"", "   ", "\n\t\n"} {
		_, err := v.Validate(text)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDocument))

		var invalid *InvalidDocumentError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, "content_exists", invalid.Check)
	}
}

func TestValidatorRejectsTooShort(t *testing.T) {
	v := NewResumeValidator(ValidatorConfig{})
	_, err := v.Validate("resume education")

	var invalid *InvalidDocumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "length", invalid.Check)
	assert.Equal(t, "too_short", invalid.Type)
}

func TestValidatorRejectsTooLong(t *testing.T) {
	v := NewResumeValidator(ValidatorConfig{MaxLength: 200})
	_, err := v.Validate(validEnglishResume + strings.Repeat("x", 300))

	var invalid *InvalidDocumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "length", invalid.Check)
	assert.Equal(t, "too_long", invalid.Type)
}

func TestValidatorRejectsNonResumeDocument(t *testing.T) {
	// 长度足够但不含任何简历关键词的技术文档
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)

	v := NewResumeValidator(ValidatorConfig{})
	_, err := v.Validate(text)

	var invalid *InvalidDocumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "keywords", invalid.Check)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
}

func TestValidatorKeywordWindowLimit(t *testing.T) {
	// 关键词全部出现在检查窗口之外时应当拒绝
	padding := strings.Repeat("a", 2100)
	text := padding + " resume education skills experience"

	v := NewResumeValidator(ValidatorConfig{})
	_, err := v.Validate(text)

	var invalid *InvalidDocumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "keywords", invalid.Check)
}

func TestValidatorKeywordCaseInsensitiveLatin(t *testing.T) {
	text := "RESUME of the candidate. EDUCATION: some university. " + strings.Repeat("detail ", 20)

	v := NewResumeValidator(ValidatorConfig{})
	result, err := v.Validate(text)
	require.NoError(t, err)
	assert.Contains(t, result.KeywordsFound, "resume")
	assert.Contains(t, result.KeywordsFound, "education")
}

func TestValidatorLongDocumentWarning(t *testing.T) {
	text := validEnglishResume + strings.Repeat("工作内容描述。", 10000)

	v := NewResumeValidator(ValidatorConfig{})
	result, err := v.Validate(text)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "文档较长")
}

func TestValidatorCustomKeywords(t *testing.T) {
	text := "gopher gopher " + strings.Repeat("filler ", 20)

	v := NewResumeValidator(ValidatorConfig{
		Keywords:          []string{"gopher", "golang"},
		MinKeywordMatches: 1,
	})
	result, err := v.Validate(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"gopher"}, result.KeywordsFound)
}
