package storage

import (
	"context"
	"fmt"
	"strings"

	"tokenpay/internal/config"
)

const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// SaveOptions Category 用于组织目录，Extension 为不含点的扩展名
type SaveOptions struct {
	Category  string
	Extension string
	BaseName  string
}

// Storage 持久化二进制数据，返回对象 key（相对路径）
type Storage interface {
	Save(ctx context.Context, data []byte, opts SaveOptions) (string, error)
}

// NewStorage 按配置创建存储后端，type 为 none 时返回 nil
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeNone:
		return nil, nil
	case TypeLocal:
		return NewLocalStorage(cfg.LocalDir)
	case TypeS3:
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Type)
	}
}
