package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const contentGenerationTasksPath = "/contents/generations/tasks"

// ArkVideoClient 方舟内容生成任务（视频），SDK 未覆盖的接口直接走 HTTP
type ArkVideoClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewArkVideoClient(baseURL, apiKey, videoModel string, httpClient *http.Client) *ArkVideoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ArkVideoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      videoModel,
		httpClient: httpClient,
	}
}

type contentItem struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *contentImage `json:"image_url,omitempty"`
}

type contentImage struct {
	URL string `json:"url"`
}

type taskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error *taskError `json:"error,omitempty"`
}

func (c *ArkVideoClient) CreateVideoTask(ctx context.Context, req VideoRequest) (string, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	content := []contentItem{{Type: "text", Text: req.Prompt}}
	if req.ImageURL != "" {
		content = append(content, contentItem{Type: "image_url", ImageURL: &contentImage{URL: req.ImageURL}})
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":   modelName,
		"content": content,
	})
	if err != nil {
		return "", err
	}

	var resp taskResponse
	if err := c.call(ctx, http.MethodPost, contentGenerationTasksPath, body, &resp); err != nil {
		return "", fmt.Errorf("创建视频任务失败: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("创建视频任务失败: 未返回任务ID")
	}
	return resp.ID, nil
}

func (c *ArkVideoClient) Poll(ctx context.Context, taskID string) (*AsyncTask, error) {
	var resp taskResponse
	if err := c.call(ctx, http.MethodGet, contentGenerationTasksPath+"/"+taskID, nil, &resp); err != nil {
		return nil, err
	}

	task := &AsyncTask{ID: taskID, Status: MapTaskStatus(resp.Status)}
	switch task.Status {
	case TaskStatusSucceeded:
		if u := strings.TrimSpace(resp.Content.VideoURL); u != "" {
			task.ResultURLs = []string{u}
		} else {
			task.Status = TaskStatusFailed
			task.Error = errors.New("视频任务成功但未返回结果地址")
		}
	case TaskStatusFailed:
		if resp.Error != nil && resp.Error.Message != "" {
			task.Error = fmt.Errorf("动画生成失败: %s", resp.Error.Message)
		}
	}
	return task, nil
}

func (c *ArkVideoClient) call(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error *taskError `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != nil && e.Error.Message != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}
