package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/gateway"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 支付确认来源
const (
	SourceNotify = "notify"
	SourcePoll   = "poll"
)

// Confirmation 网关确认的一笔支付，回调和主动查单统一转换为该结构
type Confirmation struct {
	OutTradeNo  string
	TradeNo     string
	Buyer       string
	Money       string
	PaymentType string
	Source      string
}

type ReconcileResult struct {
	OutTradeNo       string `json:"out_trade_no"`
	UserID           int64  `json:"user_id"`
	AlreadyProcessed bool   `json:"already_processed"`
	TokenAmount      int64  `json:"token_amount"`
	NewBalance       int64  `json:"new_balance"`
}

// ReconcileService 支付确认入账
//
// 同一订单无论收到多少次回调、与查单如何交错，只入账一次：
// 订单行锁串行化同一订单的确认，状态条件更新保证 UNPAID -> PAID 只成功一次
type ReconcileService struct {
	db           *gorm.DB
	pid          string
	key          string
	eventTopic   string
	userRepo     *repository.UserRepository
	orderRepo    *repository.OrderRepository
	outboxRepo   *repository.OutboxRepository
	tokenService *TokenService
}

// NewReconcileService gatewayPID 和 gatewayKey 用于校验网关通知
func NewReconcileService(db *gorm.DB, gatewayPID, gatewayKey, eventTopic string, tokenService *TokenService) *ReconcileService {
	return &ReconcileService{
		db:           db,
		pid:          gatewayPID,
		key:          gatewayKey,
		userRepo:     repository.NewUserRepository(db),
		eventTopic:   eventTopic,
		orderRepo:    repository.NewOrderRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		tokenService: tokenService,
	}
}

// HandleNotification 处理网关异步通知
func (s *ReconcileService) HandleNotification(ctx context.Context, params map[string]string) (*ReconcileResult, error) {
	n := gateway.NotificationFromParams(params)
	if err := gateway.VerifyNotification(n, s.pid, s.key); err != nil {
		logrus.WithField("notify", n.String()).Warn("[Reconcile] 通知验签失败")
		return nil, err
	}
	if !n.Succeeded() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrPaymentStatus, n.TradeStatus)
	}

	return s.confirm(ctx, Confirmation{
		OutTradeNo:  n.OutTradeNo,
		TradeNo:     n.TradeNo,
		Buyer:       n.Buyer,
		Money:       n.Money,
		PaymentType: n.Type,
		Source:      SourceNotify,
	})
}

// ReconcileRemote 主动查单结果入账，远端订单必须是已支付
func (s *ReconcileService) ReconcileRemote(ctx context.Context, remote *gateway.RemoteOrder) (*ReconcileResult, error) {
	if remote == nil || remote.OutTradeNo == "" {
		return nil, apperr.Validation("远端订单为空")
	}
	if !remote.Paid() {
		return nil, fmt.Errorf("%w: 远端状态 %d", apperr.ErrPaymentStatus, remote.Status)
	}

	return s.confirm(ctx, Confirmation{
		OutTradeNo:  remote.OutTradeNo,
		TradeNo:     remote.TradeNo,
		Buyer:       remote.Buyer,
		Money:       remote.Money,
		PaymentType: remote.Type,
		Source:      SourcePoll,
	})
}

func (s *ReconcileService) confirm(ctx context.Context, c Confirmation) (*ReconcileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txCtx := context.WithoutCancel(ctx)

	entry := logrus.WithFields(logrus.Fields{
		"order_no": c.OutTradeNo,
		"trade_no": c.TradeNo,
		"source":   c.Source,
	})

	result := &ReconcileResult{OutTradeNo: c.OutTradeNo}
	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetByOutTradeNoForUpdate(txCtx, tx, c.OutTradeNo)
		if err != nil {
			return err
		}
		result.UserID = order.UserID
		result.TokenAmount = order.TokenAmount

		// 已支付或已退款都说明之前入过账，返回当前余额
		if order.Status != model.OrderStatusUnpaid {
			user, err := s.userRepo.GetByID(txCtx, tx, order.UserID)
			if err != nil {
				return err
			}
			result.AlreadyProcessed = true
			result.NewBalance = user.TokenBalance
			return nil
		}

		money, err := decimal.NewFromString(c.Money)
		if err != nil || !money.Equal(order.Money) {
			return fmt.Errorf("%w: 订单 %s，通知 %s", apperr.ErrAmountMismatch, order.Money.StringFixed(2), c.Money)
		}

		paidAt := time.Now()
		if err := s.orderRepo.MarkPaid(txCtx, tx, c.OutTradeNo, c.TradeNo, c.Buyer, paidAt); err != nil {
			return err
		}

		credit, err := s.tokenService.CreditTx(txCtx, tx, Mutation{
			UserID:      order.UserID,
			Type:        model.TransactionTypePayment,
			Amount:      order.TokenAmount,
			Description: fmt.Sprintf("支付充值 - 订单号: %s", c.OutTradeNo),
			Metadata: map[string]interface{}{
				"payment_order_id": order.ID,
				"trade_no":         c.TradeNo,
				"payment_type":     c.PaymentType,
				"source":           c.Source,
			},
		})
		if err != nil {
			return err
		}
		result.NewBalance = credit.NewBalance

		payload, err := json.Marshal(map[string]interface{}{
			"out_trade_no": c.OutTradeNo,
			"trade_no":     c.TradeNo,
			"user_id":      order.UserID,
			"money":        order.Money.StringFixed(2),
			"token_amount": order.TokenAmount,
			"new_balance":  credit.NewBalance,
			"source":       c.Source,
			"paid_at":      paidAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(txCtx, tx, &model.OutboxEvent{
			EventKey:  c.OutTradeNo,
			EventType: model.EventOrderPaid,
			Topic:     s.eventTopic,
			Payload:   string(payload),
			Status:    model.OutboxStatusPending,
		})
	})
	if err != nil {
		if errors.Is(err, apperr.ErrAmountMismatch) || errors.Is(err, apperr.ErrNotFound) {
			entry.WithError(err).Warn("[Reconcile] 支付确认被拒绝")
		} else {
			entry.WithError(err).Error("[Reconcile] 支付确认失败，事务已回滚")
		}
		return nil, err
	}

	if result.AlreadyProcessed {
		entry.Info("[Reconcile] 订单已处理，忽略重复确认")
	} else {
		entry.WithFields(logrus.Fields{
			"user_id":      result.UserID,
			"token_amount": result.TokenAmount,
			"new_balance":  result.NewBalance,
		}).Info("[Reconcile] 支付入账成功")
	}
	return result, nil
}
