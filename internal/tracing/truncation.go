package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxQueryLength 检索查询在span属性里的最大长度
	MaxQueryLength = 150

	// MaxChunkLength 分块内容在span属性里的最大长度
	MaxChunkLength = 100
)

// maskPIILookup 需要掩码处理的字段名关键字
var maskPIILookup = map[string]bool{
	"email":    true,
	"phone":    true,
	"password": true,
	"name":     true,
	"姓名":       true,
	"secret":   true,
	"token":    true,
	"api_key":  true,
}

// SafeAttributeValue 确保span属性值安全
// 敏感字段做掩码处理，过长的值截断
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for keyword := range maskPIILookup {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 对个人敏感信息进行掩码处理
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	length := len(runes)

	if length <= 1 {
		return "*"
	}
	if length <= 4 {
		if length == 2 {
			return string(runes[0:1]) + "*"
		}
		return string(runes[0:1]) + strings.Repeat("*", length-2) + string(runes[length-1:])
	}

	// 长字符串保留首尾各两个字符，如邮箱和手机号
	return string(runes[0:2]) + strings.Repeat("*", length-4) + string(runes[length-2:])
}

// TruncateString 按rune截断字符串，中间用...连接首尾
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeQuery 安全处理检索查询文本
func SafeQuery(query string) string {
	return SafeAttributeValue("query", query, MaxQueryLength)
}

// SafeChunkContent 安全处理分块内容
func SafeChunkContent(content string) string {
	return TruncateString(content, MaxChunkLength)
}
