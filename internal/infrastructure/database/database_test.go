package database

import (
	"path/filepath"
	"testing"

	"tokenpay/internal/config"
	"tokenpay/internal/model"
)

func TestOpenSQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Type:     TypeSQLite,
		Path:     filepath.Join(t.TempDir(), "nested", "tokenpay.db"),
		LogLevel: "silent",
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	for _, table := range []interface{}{
		&model.User{}, &model.TokenTransaction{}, &model.PaymentOrder{},
		&model.GenerationHistory{}, &model.EmailVerification{}, &model.OutboxEvent{},
	} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table for %T not migrated", table)
		}
	}
}

func TestOpenUnsupportedType(t *testing.T) {
	if _, err := Open(&config.DatabaseConfig{Type: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}
