package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// 生成结果文件大小上限
const maxMirrorBytes = 200 << 20

// Mirror 将第三方临时 URL（方舟结果 24 小时过期）下载并转存，返回可长期访问的 URL
type Mirror struct {
	storage       Storage
	publicBaseURL string
	httpClient    *http.Client
}

func NewMirror(storage Storage, publicBaseURL string, httpClient *http.Client) *Mirror {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Mirror{
		storage:       storage,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		httpClient:    httpClient,
	}
}

// MirrorAll 逐个转存，单个失败时保留原始 URL
func (m *Mirror) MirrorAll(ctx context.Context, category string, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		mirrored, err := m.MirrorURL(ctx, category, u)
		if err != nil {
			logrus.WithError(err).WithField("url", u).Warn("生成结果转存失败，保留原始地址")
			out = append(out, u)
			continue
		}
		out = append(out, mirrored)
	}
	return out
}

func (m *Mirror) MirrorURL(ctx context.Context, category, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("构建下载请求失败: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("下载失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("下载失败: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}
	if len(data) > maxMirrorBytes {
		return "", fmt.Errorf("文件超过大小上限 %d 字节", maxMirrorBytes)
	}

	ext := extensionFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = extensionFromContentType(http.DetectContentType(data))
	}

	key, err := m.storage.Save(ctx, data, SaveOptions{Category: category, Extension: ext})
	if err != nil {
		return "", err
	}
	return m.publicBaseURL + "/" + key, nil
}
