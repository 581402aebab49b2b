// Package provider 封装火山方舟生成服务：图片同步生成，视频异步任务。
package provider

import (
	"context"
)

// ImageRequest 图片生成参数
type ImageRequest struct {
	Prompt        string
	Size          string
	GuidanceScale float64
	Seed          int64
	Watermark     bool
	Images        []string // 参考图 URL 或 data URL
}

// VideoRequest 视频（动画）生成参数
type VideoRequest struct {
	Prompt   string
	ImageURL string // 首帧图片，为空时文生视频
	Model    string
}

// ImageGenerator 同步生成图片，返回结果 URL
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) ([]string, error)
}

// VideoGenerator 提交视频任务并查询任务状态
type VideoGenerator interface {
	CreateVideoTask(ctx context.Context, req VideoRequest) (string, error)
	TaskPoller
}
