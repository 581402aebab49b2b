package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式 ID 生成
// ============================================================================
//
// 订单号要求：
//   1. 全局唯一 - out_trade_no 是支付网关侧的幂等键
//   2. 趋势递增 - 便于数据库索引
//   3. 长度可控 - 网关限制 64 位以内
//
// 雪花 ID 结构（bwmarrin/snowflake）：41位毫秒时间戳 + 10位节点ID + 12位序列号
// ============================================================================

// 起始时间戳（2024-01-01 00:00:00 UTC）
const epochMillis = int64(1704067200000)

var (
	node     *snowflake.Node
	initOnce sync.Once
	initErr  error
)

// Init 初始化节点，workerID 取值 0-1023，多实例部署时必须互不相同
func Init(workerID int64) error {
	initOnce.Do(func() {
		snowflake.Epoch = epochMillis
		node, initErr = snowflake.NewNode(workerID)
	})
	return initErr
}

// NextID 生成下一个 ID，未初始化时使用节点 1
func NextID() int64 {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("初始化雪花节点失败: %v", err))
	}
	return node.Generate().Int64()
}

// GenerateOutTradeNo 生成商户订单号
// 格式：年月日时分秒 + 雪花ID，例如 20240115143052 + 1747129846599028736
func GenerateOutTradeNo() string {
	return fmt.Sprintf("%s%d", time.Now().Format("20060102150405"), NextID())
}

// GenerateTransactionNo 生成流水号
func GenerateTransactionNo() string {
	return fmt.Sprintf("TXN%d", NextID())
}

// GenerateTaskID 生成任务 ID，对外暴露，不可预测
func GenerateTaskID() string {
	return uuid.NewString()
}
