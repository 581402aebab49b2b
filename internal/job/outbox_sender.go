package job

import (
	"context"
	"time"

	"tokenpay/internal/infrastructure/mq"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender 轮询本地消息表，把支付事件投递到 Kafka
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	producer      mq.Producer
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, producer mq.Producer, maxRetryCount int) *OutboxSender {
	if maxRetryCount <= 0 {
		maxRetryCount = 5
	}
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		producer:      producer,
		stopCh:        make(chan struct{}),
		interval:      500 * time.Millisecond,
		batchSize:     100,
		maxRetryCount: maxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logrus.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logrus.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingEvents(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingEvents(ctx context.Context) {
	events, err := s.outboxRepo.GetPendingEvents(ctx, s.batchSize)
	if err != nil {
		logrus.WithError(err).Error("[OutboxSender] 查询消息失败")
		return
	}

	for _, event := range events {
		s.sendEvent(ctx, event)
	}
}

func (s *OutboxSender) sendEvent(ctx context.Context, event *model.OutboxEvent) {
	entry := logrus.WithFields(logrus.Fields{
		"id":         event.ID,
		"topic":      event.Topic,
		"event_key":  event.EventKey,
		"event_type": event.EventType,
	})

	err := s.producer.SendMessage(event.Topic, event.EventKey, event.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, event.ID); updateErr != nil {
			entry.WithError(updateErr).Error("[OutboxSender] 更新消息状态失败")
		} else {
			entry.Debug("[OutboxSender] 消息发送成功")
		}
		return
	}

	entry.WithError(err).Warn("[OutboxSender] 消息发送失败")

	if event.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, event.ID); err != nil {
			entry.WithError(err).Error("[OutboxSender] 标记消息失败状态失败")
		} else {
			entry.Error("[OutboxSender] 消息超过最大重试次数，标记为失败")
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, event.ID); err != nil {
		entry.WithError(err).Error("[OutboxSender] 增加重试次数失败")
	}
}
