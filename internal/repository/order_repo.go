package repository

import (
	"context"
	"errors"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.PaymentOrder) error {
	return pick(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOutTradeNo(ctx context.Context, tx *gorm.DB, outTradeNo string) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := pick(r.db, tx).WithContext(ctx).Where("out_trade_no = ?", outTradeNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByOutTradeNoForUpdate 对账时锁定订单行，必须在事务中调用
func (r *OrderRepository) GetByOutTradeNoForUpdate(ctx context.Context, tx *gorm.DB, outTradeNo string) (*model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("out_trade_no = ?", outTradeNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetForUser 按订单 ID 或商户订单号查询用户自己的订单
func (r *OrderRepository) GetForUser(ctx context.Context, userID int64, orderID int64, outTradeNo string) (*model.PaymentOrder, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if orderID > 0 {
		query = query.Where("id = ?", orderID)
	} else {
		query = query.Where("out_trade_no = ?", outTradeNo)
	}

	var order model.PaymentOrder
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 条件更新订单状态，只有当前状态为 fromStatus 时才会生效
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, outTradeNo string, fromStatus, toStatus int8, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return apperr.ErrInvalidOrderState
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.PaymentOrder{}).
		Where("out_trade_no = ? AND status = ?", outTradeNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrInvalidOrderState
	}
	return nil
}

// MarkPaid UNPAID -> PAID，同时记录网关订单号、买家和支付时间
func (r *OrderRepository) MarkPaid(ctx context.Context, tx *gorm.DB, outTradeNo, tradeNo, buyer string, paidAt time.Time) error {
	extra := map[string]interface{}{"paid_at": paidAt}
	if tradeNo != "" {
		extra["trade_no"] = tradeNo
	}
	if buyer != "" {
		extra["buyer"] = buyer
	}
	return r.UpdateStatus(ctx, tx, outTradeNo, model.OrderStatusUnpaid, model.OrderStatusPaid, extra)
}

// MarkRefunded PAID -> REFUNDED
func (r *OrderRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, outTradeNo string, refundedAt time.Time) error {
	return r.UpdateStatus(ctx, tx, outTradeNo, model.OrderStatusPaid, model.OrderStatusRefunded,
		map[string]interface{}{"refunded_at": refundedAt})
}

// ListByUserID status 为 nil 时不过滤
func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, status *int8, page, pageSize int) ([]*model.PaymentOrder, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	var orders []*model.PaymentOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentOrder{}).Where("user_id = ?", userID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}

// GetUnpaidOrders 查询创建时间落在 [createdAfter, createdBefore) 内的未支付订单，用于主动查单补偿
func (r *OrderRepository) GetUnpaidOrders(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]*model.PaymentOrder, error) {
	var orders []*model.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ? AND created_at < ?", model.OrderStatusUnpaid, createdAfter, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
