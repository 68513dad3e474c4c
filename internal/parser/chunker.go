package parser

import (
	"sort"
	"strings"
	"unicode/utf8"

	"outreach-agent-go/internal/types"
)

// sectionMarker 章节标记及其规范名
type sectionMarker struct {
	Text      string
	Canonical types.SectionTag
	Latin     bool // 英文标记不区分大小写
}

// 闭合的双语章节标记集
// 同一位置命中多个标记时取最长的（如 WORK EXPERIENCE 优先于 EXPERIENCE）
var sectionMarkers = []sectionMarker{
	{"PROFESSIONAL SUMMARY", types.SectionSummary, true},
	{"SUMMARY", types.SectionSummary, true},
	{"OBJECTIVE", types.SectionSummary, true},
	{"ABOUT ME", types.SectionSummary, true},
	{"EDUCATION", types.SectionEducation, true},
	{"ACADEMIC BACKGROUND", types.SectionEducation, true},
	{"WORK EXPERIENCE", types.SectionExperience, true},
	{"PROFESSIONAL EXPERIENCE", types.SectionExperience, true},
	{"EMPLOYMENT HISTORY", types.SectionExperience, true},
	{"EXPERIENCE", types.SectionExperience, true},
	{"TECHNICAL SKILLS", types.SectionSkills, true},
	{"CORE COMPETENCIES", types.SectionSkills, true},
	{"SKILLS", types.SectionSkills, true},
	{"KEY PROJECTS", types.SectionProjects, true},
	{"PROJECTS", types.SectionProjects, true},
	{"CERTIFICATIONS", types.SectionCertifications, true},
	{"CERTIFICATES", types.SectionCertifications, true},
	{"LICENSES", types.SectionCertifications, true},
	{"个人简介", types.SectionSummary, false},
	{"自我评价", types.SectionSummary, false},
	{"个人总结", types.SectionSummary, false},
	{"教育背景", types.SectionEducation, false},
	{"教育经历", types.SectionEducation, false},
	{"学历背景", types.SectionEducation, false},
	{"工作经历", types.SectionExperience, false},
	{"工作经验", types.SectionExperience, false},
	{"实习经历", types.SectionExperience, false},
	{"项目经验", types.SectionProjects, false},
	{"项目经历", types.SectionProjects, false},
	{"专业技能", types.SectionSkills, false},
	{"技能", types.SectionSkills, false},
	{"证书", types.SectionCertifications, false},
	{"资格证书", types.SectionCertifications, false},
}

// 分割符优先级，从段落到字符逐级回退
var splitSeparators = []string{"\n\n\n", "\n\n", "\n", "。", ".", "；", ";", "，", ",", " ", ""}

const (
	// 标记行前最多允许的非空白字符数（编号、项目符号等）
	maxMarkerLinePrefix = 5
	// 相邻标记的最小间隔
	minMarkerGap = 20
	// 前缀内容构成header章节的最小长度
	minHeaderLength = 50
	// 元数据text字段的截断长度
	metadataTextLimit = 1000
)

// ChunkerConfig 分块器配置
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// ChunkBase 分块继承的文档级元数据
type ChunkBase struct {
	DocID           string
	UserID          string
	Source          string
	UploadTimestamp string
}

// Chunker 章节感知的递归字符分块器
// 产出有界、带重叠、带章节标签的分块流
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker 创建分块器
func NewChunker(config ChunkerConfig) *Chunker {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 2000
	}
	if config.ChunkOverlap <= 0 {
		config.ChunkOverlap = 400
	}
	return &Chunker{
		chunkSize:    config.ChunkSize,
		chunkOverlap: config.ChunkOverlap,
	}
}

// NormalizeText 归一化文本
// 统一换行符，空格/制表符折叠为一个空格，连续换行最多保留三个，去除首尾空白
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var sb strings.Builder
	sb.Grow(len(text))
	spaceRun := false
	newlineRun := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlineRun++
			spaceRun = false
			if newlineRun <= 3 {
				sb.WriteRune('\n')
			}
		case r == ' ' || r == '\t':
			newlineRun = 0
			if !spaceRun {
				sb.WriteRune(' ')
				spaceRun = true
			}
		default:
			newlineRun = 0
			spaceRun = false
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// sectionSpan 检测到的逻辑章节
type sectionSpan struct {
	Name  string // 规范章节名
	Start int    // 在归一化文本中的字节偏移
	Text  string
}

// markerHit 单个标记命中
type markerHit struct {
	Pos       int
	Length    int
	Canonical string
}

// Chunk 对归一化后的文本分章节、分块，并附加完整元数据
func (c *Chunker) Chunk(text string, base ChunkBase) ([]types.Chunk, types.ChunkStats) {
	normalized := NormalizeText(text)
	sections := c.detectSections(normalized)

	type rawChunk struct {
		content      string
		section      string
		sectionStart int
	}

	var raw []rawChunk
	for _, section := range sections {
		for _, piece := range c.splitSection(section.Text) {
			raw = append(raw, rawChunk{
				content:      piece,
				section:      section.Name,
				sectionStart: section.Start,
			})
		}
	}

	chunks := make([]types.Chunk, 0, len(raw))
	sectionSet := make(map[string]bool)
	stats := types.ChunkStats{Count: len(raw)}
	totalLen := 0

	for i, rc := range raw {
		charCount := utf8.RuneCountInString(rc.content)
		totalLen += charCount
		if stats.MinLength == 0 || charCount < stats.MinLength {
			stats.MinLength = charCount
		}
		if charCount > stats.MaxLength {
			stats.MaxLength = charCount
		}
		sectionSet[rc.section] = true

		chunks = append(chunks, types.Chunk{
			ID:          types.ChunkID(base.DocID, i),
			PageContent: rc.content,
			Metadata: types.ChunkMetadata{
				DocID:           base.DocID,
				UserID:          base.UserID,
				Source:          base.Source,
				UploadTimestamp: base.UploadTimestamp,
				Section:         rc.section,
				ChunkIndex:      i,
				ChunkTotal:      len(raw),
				CharCount:       charCount,
				SectionStart:    rc.sectionStart,
				Text:            truncateRunes(rc.content, metadataTextLimit),
			},
		})
	}

	if stats.Count > 0 {
		stats.AvgLength = totalLen / stats.Count
	}
	for name := range sectionSet {
		stats.Sections = append(stats.Sections, name)
	}
	sort.Strings(stats.Sections)
	stats.SectionCount = len(stats.Sections)

	return chunks, stats
}

// detectSections 单次扫描收集所有标记命中，排序后按邻近规则去重
// 未检测到任何标记时整个文本作为 full_resume 一个逻辑章节
func (c *Chunker) detectSections(normalized string) []sectionSpan {
	if normalized == "" {
		return nil
	}

	upper := strings.ToUpper(normalized)
	var hits []markerHit
	for _, marker := range sectionMarkers {
		haystack := normalized
		needle := marker.Text
		if marker.Latin {
			haystack = upper
		}
		offset := 0
		for {
			idx := strings.Index(haystack[offset:], needle)
			if idx < 0 {
				break
			}
			pos := offset + idx
			if markerStartsLine(normalized, pos) {
				hits = append(hits, markerHit{
					Pos:       pos,
					Length:    len(needle),
					Canonical: string(marker.Canonical),
				})
			}
			offset = pos + len(needle)
		}
	}

	if len(hits) == 0 {
		return []sectionSpan{{
			Name:  string(types.SectionFullResume),
			Start: 0,
			Text:  normalized,
		}}
	}

	// 按位置排序，同位置取最长标记
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Pos != hits[j].Pos {
			return hits[i].Pos < hits[j].Pos
		}
		return hits[i].Length > hits[j].Length
	})

	// 邻近去重：与上一个接受的标记间隔必须超过 minMarkerGap，且不与其重叠
	var accepted []markerHit
	for _, hit := range hits {
		if len(accepted) > 0 {
			prev := accepted[len(accepted)-1]
			if hit.Pos < prev.Pos+prev.Length || hit.Pos-prev.Pos <= minMarkerGap {
				continue
			}
		}
		accepted = append(accepted, hit)
	}

	var sections []sectionSpan

	// 第一个标记前的前缀超过50字符时构成header章节，否则并入第一个章节
	prefixEnd := accepted[0].Pos
	prefix := strings.TrimSpace(normalized[:prefixEnd])
	sectionBodyStart := accepted[0].Pos
	if utf8.RuneCountInString(prefix) > minHeaderLength {
		sections = append(sections, sectionSpan{
			Name:  string(types.SectionHeader),
			Start: 0,
			Text:  prefix,
		})
	} else if prefix != "" {
		sectionBodyStart = 0
	}

	for i, hit := range accepted {
		start := hit.Pos
		if i == 0 {
			start = sectionBodyStart
		}
		end := len(normalized)
		if i+1 < len(accepted) {
			end = accepted[i+1].Pos
		}
		content := strings.TrimSpace(normalized[start:end])
		if content == "" {
			continue
		}
		sections = append(sections, sectionSpan{
			Name:  hit.Canonical,
			Start: start,
			Text:  content,
		})
	}

	return sections
}

// markerStartsLine 标记必须位于行首，行内前缀最多允许5个非空白字符
func markerStartsLine(text string, pos int) bool {
	lineStart := strings.LastIndexByte(text[:pos], '\n') + 1
	nonSpace := 0
	for _, r := range text[lineStart:pos] {
		if r != ' ' && r != '\t' {
			nonSpace++
		}
	}
	return nonSpace <= maxMarkerLinePrefix
}

// splitSection 递归字符分割单个章节
// 不超过 chunkSize（字符回退保证），相邻分块重叠至少 chunkOverlap（内容允许时）
func (c *Chunker) splitSection(text string) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	pieces := c.splitRecursive(text, splitSeparators)
	return c.mergePieces(pieces)
}

// splitRecursive 按分隔符优先级将文本拆为不超过 chunkSize 的片段
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}

	// 找到第一个在文本中出现的分隔符
	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep = ""
			rest = nil
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return c.hardSplit(text)
	}

	// SplitAfter 保留分隔符，保证内容无损拼接
	parts := strings.SplitAfter(text, sep)
	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) > c.chunkSize {
			pieces = append(pieces, c.splitRecursive(part, rest)...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// hardSplit 无分隔符可用时的逐字符回退，步长为 chunkSize-chunkOverlap
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	stride := c.chunkSize - c.chunkOverlap
	if stride <= 0 {
		stride = c.chunkSize
	}
	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// mergePieces 贪心合并片段为目标大小的分块，保留尾部片段作为与下一块的重叠
func (c *Chunker) mergePieces(pieces []string) []string {
	var chunks []string
	var window []string
	windowLen := 0

	flush := func() {
		joined := strings.TrimSpace(strings.Join(window, ""))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if windowLen+pieceLen > c.chunkSize && windowLen > 0 {
			flush()
			// 收缩窗口：放得下新片段，且保留的重叠不低于 chunkOverlap
			for len(window) > 0 {
				headLen := utf8.RuneCountInString(window[0])
				if windowLen+pieceLen > c.chunkSize || windowLen-headLen >= c.chunkOverlap {
					window = window[1:]
					windowLen -= headLen
					continue
				}
				break
			}
		}
		window = append(window, piece)
		windowLen += pieceLen
	}
	if windowLen > 0 {
		flush()
	}
	return chunks
}

// truncateRunes 按字符数截断
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
