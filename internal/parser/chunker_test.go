package parser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent-go/internal/types"
)

func testChunkBase() ChunkBase {
	return ChunkBase{
		DocID:           "resume_user1",
		UserID:          "user1",
		Source:          "resume_upload",
		UploadTimestamp: "2026-08-01T00:00:00Z",
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"CRLF转LF", "a\r\nb", "a\nb"},
		{"裸CR转LF", "a\rb", "a\nb"},
		{"空格折叠", "a    b\t\tc", "a b c"},
		{"连续换行最多保留三个", "a\n\n\n\n\n\nb", "a\n\n\nb"},
		{"去除首尾空白", "  \n hello \n  ", "hello"},
		{"CJK内容原样保留", "工作经历：后端开发", "工作经历：后端开发"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeText(tc.in))
		})
	}
}

func TestChunkerDetectsEnglishSections(t *testing.T) {
	text := `John Doe
john@example.com | +1 555 0100
Senior Backend Engineer with strong distributed systems background.

SUMMARY
Experienced engineer focused on reliability.

WORK EXPERIENCE
Acme Corp, 2019-2024. Built payment services in Go.

EDUCATION
B.S. Computer Science, Example University.

SKILLS
Go, Kubernetes, PostgreSQL.
`

	c := NewChunker(ChunkerConfig{})
	chunks, stats := c.Chunk(text, testChunkBase())
	require.NotEmpty(t, chunks)

	// 第一个标记前的长前缀构成header章节
	assert.Equal(t, string(types.SectionHeader), chunks[0].Metadata.Section)
	assert.Contains(t, stats.Sections, string(types.SectionSummary))
	assert.Contains(t, stats.Sections, string(types.SectionExperience))
	assert.Contains(t, stats.Sections, string(types.SectionEducation))
	assert.Contains(t, stats.Sections, string(types.SectionSkills))
	assert.Equal(t, len(stats.Sections), stats.SectionCount)
}

func TestChunkerDetectsChineseSections(t *testing.T) {
	text := `张三，资深后端工程师，八年分布式系统经验，参与过多个大型项目。

个人简介
专注于高可用服务设计。

工作经历
某互联网公司，2019-2024，负责订单系统。

教育背景
某大学，计算机科学与技术。

专业技能
Go、MySQL、Redis。
`

	c := NewChunker(ChunkerConfig{})
	chunks, stats := c.Chunk(text, testChunkBase())
	require.NotEmpty(t, chunks)

	assert.Contains(t, stats.Sections, string(types.SectionSummary))
	assert.Contains(t, stats.Sections, string(types.SectionExperience))
	assert.Contains(t, stats.Sections, string(types.SectionEducation))
	assert.Contains(t, stats.Sections, string(types.SectionSkills))
	_ = chunks
}

func TestChunkerLongestMarkerWins(t *testing.T) {
	// WORK EXPERIENCE 必须整体识别为experience，而不是EXPERIENCE单独命中
	text := strings.Repeat("intro text for the header section padding. ", 3) + `
WORK EXPERIENCE
` + strings.Repeat("Did backend work. ", 10)

	c := NewChunker(ChunkerConfig{})
	_, stats := c.Chunk(text, testChunkBase())
	assert.Contains(t, stats.Sections, string(types.SectionExperience))
}

func TestChunkerNoMarkersFallsBackToFullResume(t *testing.T) {
	text := strings.Repeat("张三负责后端服务的设计与维护。", 20)

	c := NewChunker(ChunkerConfig{})
	chunks, stats := c.Chunk(text, testChunkBase())
	require.Len(t, stats.Sections, 1)
	assert.Equal(t, string(types.SectionFullResume), stats.Sections[0])
	for _, chunk := range chunks {
		assert.Equal(t, string(types.SectionFullResume), chunk.Metadata.Section)
	}
}

func TestChunkerMarkerMustStartLine(t *testing.T) {
	// EXPERIENCE 出现在句子中间时不应作为章节标记
	text := strings.Repeat("I have extensive EXPERIENCE in building large systems and more. ", 5)

	c := NewChunker(ChunkerConfig{})
	_, stats := c.Chunk(text, testChunkBase())
	assert.Equal(t, []string{string(types.SectionFullResume)}, stats.Sections)
}

func TestChunkerBoundedChunks(t *testing.T) {
	// 单个超长章节必须被切成不超过chunkSize的块
	var sb strings.Builder
	sb.WriteString("WORK EXPERIENCE\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&sb, "Built service number %d handling millions of requests per day. ", i)
	}

	c := NewChunker(ChunkerConfig{ChunkSize: 500, ChunkOverlap: 100})
	chunks, stats := c.Chunk(sb.String(), testChunkBase())
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.PageContent), 500)
	}
	assert.Equal(t, len(chunks), stats.Count)
	assert.LessOrEqual(t, stats.MinLength, stats.AvgLength)
	assert.LessOrEqual(t, stats.AvgLength, stats.MaxLength)
}

func TestChunkerOverlapBetweenAdjacentChunks(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&sb, "sentence %d. ", i)
	}

	c := NewChunker(ChunkerConfig{ChunkSize: 300, ChunkOverlap: 80})
	chunks, _ := c.Chunk(sb.String(), testChunkBase())
	require.Greater(t, len(chunks), 1)

	// 相邻块之间必须有内容重叠：后一块的开头出现在前一块中
	for i := 1; i < len(chunks); i++ {
		head := chunks[i].PageContent
		if utf8.RuneCountInString(head) > 40 {
			head = string([]rune(head)[:40])
		}
		assert.Contains(t, chunks[i-1].PageContent, head,
			"块 %d 与块 %d 之间缺少重叠", i-1, i)
	}
}

func TestChunkerCJKHardSplitKeepsRunesIntact(t *testing.T) {
	// 无任何分隔符的连续CJK文本走逐字符回退，不能切坏多字节字符
	text := strings.Repeat("简", 1200)

	c := NewChunker(ChunkerConfig{ChunkSize: 500, ChunkOverlap: 100})
	chunks, _ := c.Chunk(text, testChunkBase())
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.PageContent))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.PageContent), 500)
	}
}

func TestChunkerDeterministicIDsAndMetadata(t *testing.T) {
	text := validEnglishResume
	base := testChunkBase()

	c := NewChunker(ChunkerConfig{})
	first, _ := c.Chunk(text, base)
	second, _ := c.Chunk(text, base)
	require.Equal(t, first, second, "同一输入必须产生完全相同的分块")

	for i, chunk := range first {
		assert.Equal(t, types.ChunkID(base.DocID, i), chunk.ID)
		assert.Equal(t, base.DocID, chunk.Metadata.DocID)
		assert.Equal(t, base.UserID, chunk.Metadata.UserID)
		assert.Equal(t, base.Source, chunk.Metadata.Source)
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
		assert.Equal(t, len(first), chunk.Metadata.ChunkTotal)
		assert.Equal(t, utf8.RuneCountInString(chunk.PageContent), chunk.Metadata.CharCount)
		assert.NotEmpty(t, chunk.Metadata.Text)
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	chunks, stats := c.Chunk("   \n\n  ", testChunkBase())
	assert.Empty(t, chunks)
	assert.Zero(t, stats.Count)
}
