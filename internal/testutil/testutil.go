// Package testutil provides shared test utilities for tests that need a
// real (in-memory) settings store.
package testutil

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/lucsky/cuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/veilstage/pulsegrid/internal/database/models"
	"github.com/veilstage/pulsegrid/internal/database/repositories"
)

// TestDB holds the test database and the setting repository.
type TestDB struct {
	DB          *gorm.DB
	SettingRepo *repositories.SettingRepository
}

// SetupTestDB creates an in-memory SQLite database for testing. It returns
// a TestDB with the setting repository initialized and a cleanup function.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	if err := db.AutoMigrate(&models.Setting{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	testDB := &TestDB{
		DB:          db,
		SettingRepo: repositories.NewSettingRepository(db),
	}

	cleanup := func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}

	return testDB, cleanup
}

// UniqueSettingKey generates a unique setting key for testing, so tests
// don't conflict with each other.
func UniqueSettingKey(prefix string) string {
	return prefix + "-" + cuid.New()[:8]
}
