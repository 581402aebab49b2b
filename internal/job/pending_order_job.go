package job

import (
	"context"
	"time"

	"tokenpay/internal/gateway"
	"tokenpay/internal/repository"
	"tokenpay/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrderQuerier 网关查单
type OrderQuerier interface {
	QueryOrder(ctx context.Context, outTradeNo string) (*gateway.RemoteOrder, error)
}

// RemoteReconciler 查单结果入账
type RemoteReconciler interface {
	ReconcileRemote(ctx context.Context, remote *gateway.RemoteOrder) (*service.ReconcileResult, error)
}

// PendingOrderJob 主动查询未支付订单，补偿丢失的支付回调
//
// 只处理创建超过 minAge 的订单，给正常回调留出时间；超过 maxAge 的订单不再查询
type PendingOrderJob struct {
	orderRepo  *repository.OrderRepository
	querier    OrderQuerier
	reconciler RemoteReconciler
	stopCh     chan struct{}
	interval   time.Duration
	minAge     time.Duration
	maxAge     time.Duration
	batchSize  int
}

func NewPendingOrderJob(db *gorm.DB, querier OrderQuerier, reconciler RemoteReconciler, interval, maxAge time.Duration) *PendingOrderJob {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &PendingOrderJob{
		orderRepo:  repository.NewOrderRepository(db),
		querier:    querier,
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
		interval:   interval,
		minAge:     time.Minute,
		maxAge:     maxAge,
		batchSize:  50,
	}
}

func (j *PendingOrderJob) Start(ctx context.Context) {
	logrus.WithField("interval", j.interval.String()).Info("[PendingOrderJob] 未支付订单查单任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[PendingOrderJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logrus.Info("[PendingOrderJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcilePendingOrders(ctx)
		}
	}
}

func (j *PendingOrderJob) Stop() {
	close(j.stopCh)
}

// reconcilePendingOrders 返回本次入账的订单数
func (j *PendingOrderJob) reconcilePendingOrders(ctx context.Context) int {
	now := time.Now()
	orders, err := j.orderRepo.GetUnpaidOrders(ctx, now.Add(-j.maxAge), now.Add(-j.minAge), j.batchSize)
	if err != nil {
		logrus.WithError(err).Error("[PendingOrderJob] 查询未支付订单失败")
		return 0
	}
	if len(orders) == 0 {
		return 0
	}

	credited := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		entry := logrus.WithFields(logrus.Fields{"order_no": order.OutTradeNo, "user_id": order.UserID})

		remote, err := j.querier.QueryOrder(ctx, order.OutTradeNo)
		if err != nil {
			entry.WithError(err).Warn("[PendingOrderJob] 网关查单失败")
			continue
		}
		if !remote.Paid() {
			continue
		}

		result, err := j.reconciler.ReconcileRemote(ctx, remote)
		if err != nil {
			entry.WithError(err).Warn("[PendingOrderJob] 补偿入账失败")
			continue
		}
		if !result.AlreadyProcessed {
			credited++
			entry.WithField("token_amount", result.TokenAmount).Info("[PendingOrderJob] 补偿入账成功")
		}
	}

	if credited > 0 {
		logrus.Infof("[PendingOrderJob] 本次检查 %d 个订单，补偿入账 %d 个", len(orders), credited)
	}
	return credited
}
