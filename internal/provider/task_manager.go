package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskStatus 异步任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

var ErrPollExhausted = errors.New("轮询次数超过上限")

// AsyncTask 一次查询得到的任务快照
type AsyncTask struct {
	ID         string
	Status     TaskStatus
	ResultURLs []string
	Error      error
}

// PollConfig 轮询配置，总时长还受 ctx 截止时间约束
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollConfig 3 秒一次，最多 10 分钟
var DefaultPollConfig = PollConfig{
	Interval:    3 * time.Second,
	MaxAttempts: 200,
}

// TaskPoller 查询任务当前状态
type TaskPoller interface {
	Poll(ctx context.Context, taskID string) (*AsyncTask, error)
}

// ProgressFunc 每次轮询后回调，attempt 从 1 开始
type ProgressFunc func(task *AsyncTask, attempt int)

// WaitForTask 轮询直到任务结束、超出次数或 ctx 取消
//
// 单次查询失败不会立即放弃，连续失败 3 次才返回错误
func WaitForTask(ctx context.Context, poller TaskPoller, taskID string, cfg PollConfig, onProgress ProgressFunc) (*AsyncTask, error) {
	if taskID == "" {
		return nil, errors.New("task ID is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollConfig.Interval
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollConfig.MaxAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts, consecutiveErrors := 0, 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ticker.C:
			attempts++

			task, err := poller.Poll(ctx, taskID)
			if err != nil {
				consecutiveErrors++
				logrus.WithFields(logrus.Fields{
					"provider_task_id": taskID,
					"attempt":          attempts,
					"error":            err,
				}).Warn("查询生成任务失败")
				if consecutiveErrors >= 3 {
					return nil, err
				}
				if attempts >= maxAttempts {
					return nil, ErrPollExhausted
				}
				continue
			}
			consecutiveErrors = 0

			if onProgress != nil {
				onProgress(task, attempts)
			}

			switch task.Status {
			case TaskStatusSucceeded:
				return task, nil
			case TaskStatusFailed:
				if task.Error != nil {
					return nil, task.Error
				}
				return nil, errors.New("任务失败，未返回错误信息")
			case TaskStatusCancelled:
				return nil, errors.New("任务已取消")
			default:
				if attempts >= maxAttempts {
					return nil, fmt.Errorf("%w: %d", ErrPollExhausted, maxAttempts)
				}
			}
		}
	}
}

// MapTaskStatus 把服务商状态映射为统一状态
func MapTaskStatus(status string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "queued", "in_queue", "created":
		return TaskStatusPending
	case "running", "processing", "in_progress", "started":
		return TaskStatusRunning
	case "succeeded", "success", "completed", "done":
		return TaskStatusSucceeded
	case "failed", "failure", "error":
		return TaskStatusFailed
	case "cancelled", "canceled", "aborted":
		return TaskStatusCancelled
	default:
		return TaskStatusRunning
	}
}
