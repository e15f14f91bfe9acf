// Package dbtest opens throwaway target stores for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/libreviews/revdal/internal/database"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns an in-memory SQLite store with the full schema applied.
func Open(t testing.TB, prefix string) *database.Store {
	t.Helper()
	store := OpenEmpty(t, prefix)
	require.NoError(t, store.ApplySchemaMigrations(context.Background()))
	return store
}

// OpenEmpty returns an in-memory SQLite store without any tables.
func OpenEmpty(t testing.TB, prefix string) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store := database.New(db, prefix)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
