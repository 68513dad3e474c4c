package tracing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "a*", MaskPII("ab"))
	assert.Equal(t, "a*c", MaskPII("abc"))
	assert.Equal(t, "jo"+strings.Repeat("*", 16)+"om", MaskPII("john.doe@example.com"))
	// CJK按rune掩码
	assert.Equal(t, "张*", MaskPII("张三"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))

	long := strings.Repeat("x", 50) + strings.Repeat("y", 50)
	got := TruncateString(long, 21)
	assert.Contains(t, got, "...")
	assert.LessOrEqual(t, len([]rune(got)), 21)
	assert.True(t, strings.HasPrefix(got, "xxx"))
	assert.True(t, strings.HasSuffix(got, "yyy"))
}

func TestSafeAttributeValue(t *testing.T) {
	// 敏感字段名触发掩码而不是截断
	assert.Equal(t, "jo"+strings.Repeat("*", 16)+"om", SafeAttributeValue("user.email", "john.doe@example.com", 200))
	assert.Equal(t, "al*ce", SafeAttributeValue("resume.name", "alice", 200))

	// 普通字段只截断
	long := strings.Repeat("z", 300)
	got := SafeAttributeValue("doc.id", long, DefaultMaxLength)
	assert.LessOrEqual(t, len([]rune(got)), DefaultMaxLength)
}

func TestSafeQuery(t *testing.T) {
	long := strings.Repeat("q", 200)
	got := SafeQuery(long)
	assert.LessOrEqual(t, len([]rune(got)), MaxQueryLength)
}
