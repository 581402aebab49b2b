package handler

import (
	"tokenpay/internal/model"
	"tokenpay/internal/repository"
	"tokenpay/internal/service"
	"tokenpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 生成相关接口
// ============================================================

type GenerateImageRequest struct {
	Prompt    string   `json:"prompt" binding:"required"`
	Size      string   `json:"size"`
	Watermark *bool    `json:"watermark"`
	Images    []string `json:"images"`
}

// GenerateImage 同步生成图片，扣费后调用生成服务
// POST /api/generate/image
func (h *Handler) GenerateImage(c *gin.Context) {
	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	out, err := h.generationService.GenerateImage(c.Request.Context(), currentUserID(c), service.ImageInput{
		Prompt:    req.Prompt,
		Size:      req.Size,
		Watermark: req.Watermark,
		Images:    req.Images,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, out.Message, out)
}

type GenerateAnimationRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	ImageURL string `json:"image_url" binding:"required"`
	Model    string `json:"model"`
}

// GenerateAnimation 提交动画任务，结果通过 status 接口轮询
// POST /api/generate/animation
func (h *Handler) GenerateAnimation(c *gin.Context) {
	var req GenerateAnimationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	task, err := h.generationService.GenerateAnimation(c.Request.Context(), currentUserID(c), service.AnimationInput{
		Prompt:   req.Prompt,
		ImageURL: req.ImageURL,
		Model:    req.Model,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "动画生成任务已提交", task)
}

// GetTaskStatus 查询生成任务状态
// GET /api/generate/status/:taskId
func (h *Handler) GetTaskStatus(c *gin.Context) {
	task, err := h.generationService.GetTask(c.Request.Context(), currentUserID(c), c.Param("taskId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// GetGenerationHistory 生成历史，支持类型、状态、日期过滤
// GET /api/generate/history?type=image&status=completed&start_date=2024-01-01&end_date=2024-01-31
func (h *Handler) GetGenerationHistory(c *gin.Context) {
	page, size := pagination(c, 10)
	from, err := parseDate(c.Query("start_date"), false)
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDate(c.Query("end_date"), true)
	if err != nil {
		response.Error(c, err)
		return
	}

	q := repository.HistoryQuery{
		UserID:   currentUserID(c),
		From:     from,
		To:       to,
		Page:     page,
		PageSize: size,
	}
	// 非法的类型和状态忽略，不作为过滤条件
	switch t := c.Query("type"); t {
	case model.GenerationTypeImage, model.GenerationTypeAnimation:
		q.Type = t
	}
	switch s := c.Query("status"); s {
	case model.GenerationStatusPending, model.GenerationStatusProcessing,
		model.GenerationStatusCompleted, model.GenerationStatusFailed:
		q.Status = s
	}

	result, err := h.generationService.ListHistory(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// DeleteGenerationHistory 删除一条生成记录
// DELETE /api/generate/history/:id
func (h *Handler) DeleteGenerationHistory(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.generationService.DeleteHistory(c.Request.Context(), currentUserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}
