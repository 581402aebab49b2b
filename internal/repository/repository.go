package repository

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrOptimisticLock = errors.New("乐观锁冲突，请重试")
)

// pick 事务内使用 tx，否则使用仓库自身的连接
func pick(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

// normalizePage 页码从 1 开始，每页默认 20 条，最多 100 条
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
