package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach-agent-go/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

// ErrExtractionFailed 提取后文本为空（纯图片或损坏的PDF），不做OCR兜底
var ErrExtractionFailed = errors.New("PDF文本提取失败")

// ExtractResult 提取结果
type ExtractResult struct {
	Text     string
	NumPages int
}

// EinoPDFTextExtractor 使用 Eino PDF Parser 从字节缓冲中提取文本
type EinoPDFTextExtractor struct {
	parser *pdf.PDFParser
}

// NewEinoPDFTextExtractor 初始化 Eino PDF 文本提取器
// 按页解析以便返回页数，文本由各页拼接而成
func NewEinoPDFTextExtractor(ctx context.Context) (*EinoPDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}

	return &EinoPDFTextExtractor{parser: p}, nil
}

// ExtractFromBytes 从PDF字节缓冲提取UTF-8文本
// 提取文本去除首尾空白后为空时返回 ErrExtractionFailed，调用方不做重试
func (e *EinoPDFTextExtractor) ExtractFromBytes(ctx context.Context, data []byte, uri string) (*ExtractResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := e.parser.Parse(ctx, bytes.NewReader(data),
		einoParser.WithURI(uri),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(doc.Content)
		if i < len(docs)-1 {
			sb.WriteString("\n")
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// 纯图片或损坏的PDF
		return nil, fmt.Errorf("%w: 文档不包含可提取文本", ErrExtractionFailed)
	}

	logger.Debug().
		Str("uri", uri).
		Int("pages", len(docs)).
		Int("text_length", len(text)).
		Dur("duration", time.Since(startTime)).
		Msg("PDF文本提取完成")

	return &ExtractResult{
		Text:     text,
		NumPages: len(docs),
	}, nil
}
