package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"outreach-agent-go/internal/config"
	"outreach-agent-go/internal/logger"
	"outreach-agent-go/internal/parser"
	"outreach-agent-go/internal/rag"
)

// ResumeHandler 简历RAG接口层，把HTTP请求翻译成Service调用
type ResumeHandler struct {
	cfg *config.Config
	svc *rag.Service
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(cfg *config.Config, svc *rag.Service) *ResumeHandler {
	return &ResumeHandler{cfg: cfg, svc: svc}
}

// statusForError 按管道步骤映射HTTP状态码
// 提取与校验失败是客户端可修复的，返回422
func statusForError(err error) int {
	switch rag.StepOf(err) {
	case rag.StepExtraction, rag.StepValidation:
		return consts.StatusUnprocessableEntity
	}
	if errors.Is(err, rag.ErrIngestInProgress) {
		return consts.StatusConflict
	}
	if errors.Is(err, parser.ErrInvalidDocument) || errors.Is(err, parser.ErrExtractionFailed) {
		return consts.StatusUnprocessableEntity
	}
	return consts.StatusInternalServerError
}

func writeError(ctx *app.RequestContext, err error) {
	ctx.JSON(statusForError(err), utils.H{
		"success": false,
		"error":   err.Error(),
		"step":    rag.StepOf(err),
	})
}

func readMultipartFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// HandleUpload POST /api/v1/resume/upload
// multipart表单: file(必填PDF), user_id, doc_id
func (h *ResumeHandler) HandleUpload(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "文件未找到"})
		return
	}

	data, err := readMultipartFile(fileHeader)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"success": false, "error": "读取上传文件失败"})
		return
	}

	result, err := h.svc.Ingest(c, rag.IngestRequest{
		UserID:   ctx.PostForm("user_id"),
		DocID:    ctx.PostForm("doc_id"),
		Filename: fileHeader.Filename,
		PDFData:  data,
	})
	if err != nil {
		logger.Warn().Err(err).Str("filename", fileHeader.Filename).Msg("简历摄取失败")
		writeError(ctx, err)
		return
	}

	ctx.JSON(consts.StatusOK, utils.H{
		"success": true,
		"result":  result,
	})
}

// IngestTextRequest POST /api/v1/resume/ingest-text 的请求体
// 调试与批量导入场景，跳过PDF提取直接摄取文本
type IngestTextRequest struct {
	UserID string `json:"user_id"`
	DocID  string `json:"doc_id"`
	Text   string `json:"text"`
}

// HandleIngestText POST /api/v1/resume/ingest-text
func (h *ResumeHandler) HandleIngestText(c context.Context, ctx *app.RequestContext) {
	var req IngestTextRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "请求体解析失败"})
		return
	}
	if req.Text == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "text不能为空"})
		return
	}

	result, err := h.svc.Ingest(c, rag.IngestRequest{
		UserID: req.UserID,
		DocID:  req.DocID,
		Text:   req.Text,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"success": true, "result": result})
}

// AnalyzeRequestBody POST /api/v1/resume/analyze 的请求体
type AnalyzeRequestBody struct {
	Query          string `json:"query"`
	JobDescription string `json:"job_description"`
	UserID         string `json:"user_id"`
	DocID          string `json:"doc_id"`
	TopK           int    `json:"top_k"`
}

// HandleAnalyze POST /api/v1/resume/analyze
func (h *ResumeHandler) HandleAnalyze(c context.Context, ctx *app.RequestContext) {
	var req AnalyzeRequestBody
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "请求体解析失败"})
		return
	}
	if req.Query == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "query不能为空"})
		return
	}
	if req.UserID == "" && req.DocID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "user_id与doc_id至少提供一个"})
		return
	}

	result, err := h.svc.Analyze(c, rag.AnalyzeRequest{
		Query:          req.Query,
		JobDescription: req.JobDescription,
		UserID:         req.UserID,
		DocID:          req.DocID,
		TopK:           req.TopK,
	})
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

// SkillMatchRequestBody POST /api/v1/resume/skill-match 的请求体
type SkillMatchRequestBody struct {
	Skills []string `json:"skills"`
	UserID string   `json:"user_id"`
	DocID  string   `json:"doc_id"`
}

// HandleSkillMatch POST /api/v1/resume/skill-match
func (h *ResumeHandler) HandleSkillMatch(c context.Context, ctx *app.RequestContext) {
	var req SkillMatchRequestBody
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "请求体解析失败"})
		return
	}
	if len(req.Skills) == 0 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"success": false, "error": "skills不能为空"})
		return
	}

	result, err := h.svc.SkillMatch(c, req.Skills, req.DocID, req.UserID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"success": true, "result": result})
}

// HandleExists GET /api/v1/resume/:docId/exists
func (h *ResumeHandler) HandleExists(c context.Context, ctx *app.RequestContext) {
	docID := ctx.Param("docId")
	exists, err := h.svc.Exists(c, docID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"doc_id": docID, "exists": exists})
}

// HandleDelete DELETE /api/v1/resume/:docId
func (h *ResumeHandler) HandleDelete(c context.Context, ctx *app.RequestContext) {
	docID := ctx.Param("docId")
	if err := h.svc.DeleteDocument(c, docID); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"success": true, "doc_id": docID})
}

// HandleProfile GET /api/v1/resume/profile/:userId
func (h *ResumeHandler) HandleProfile(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("userId")
	profile, err := h.svc.GetProfile(c, userID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if profile == nil {
		ctx.JSON(consts.StatusNotFound, utils.H{"success": false, "error": "画像不存在"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"success": true, "profile": profile})
}

// HandleStats GET /api/v1/rag/stats
func (h *ResumeHandler) HandleStats(c context.Context, ctx *app.RequestContext) {
	stats, err := h.svc.Stats(c)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, stats)
}
