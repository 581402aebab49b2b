package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

// 文档: https://www.volcengine.com/docs/82379/1541523

// ArkImageClient 基于 arkruntime SDK 的图片生成
type ArkImageClient struct {
	client *arkruntime.Client
	model  string
}

func NewArkImageClient(baseURL, apiKey, imageModel string) *ArkImageClient {
	opts := []arkruntime.ConfigOption{}
	if baseURL != "" {
		opts = append(opts, arkruntime.WithBaseUrl(baseURL))
	}
	return &ArkImageClient{
		client: arkruntime.NewClientWithApiKey(apiKey, opts...),
		model:  imageModel,
	}
}

func (c *ArkImageClient) GenerateImage(ctx context.Context, req ImageRequest) ([]string, error) {
	generateReq := model.GenerateImagesRequest{
		Model:          c.model,
		Prompt:         req.Prompt,
		Size:           volcengine.String(req.Size),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL), // 链接 24 小时内有效
		Watermark:      volcengine.Bool(req.Watermark),
	}
	if req.Seed != 0 {
		generateReq.Seed = volcengine.Int64(req.Seed)
	}
	if req.GuidanceScale > 0 {
		generateReq.GuidanceScale = volcengine.Float64(req.GuidanceScale)
	}
	if len(req.Images) > 0 {
		generateReq.Image = req.Images
	}

	resp, err := c.client.GenerateImages(ctx, generateReq)
	if err != nil {
		return nil, fmt.Errorf("调用图片生成失败: %w", err)
	}

	urls := make([]string, 0, len(resp.Data))
	for _, img := range resp.Data {
		if img != nil && img.Url != nil && *img.Url != "" {
			urls = append(urls, *img.Url)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("图片生成未返回结果")
	}
	return urls, nil
}
