// Package database is the relational target adapter: connection lifecycle,
// raw queries, transactions, namespaced tables and schema migrations.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libreviews/revdal/internal/common"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// existingChunk bounds the IN list of existence lookups.
const existingChunk = 500

// Options configures the connection to the target store.
type Options struct {
	DSN             string
	TablePrefix     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
	SlowThreshold   time.Duration
}

// Store wraps the target database. Table names pass through Table so that
// several namespaces can share one database.
type Store struct {
	db     *gorm.DB
	prefix string
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger: NewGormLogger(log, opts.LogLevel, opts.SlowThreshold),
	})
	if err != nil {
		return nil, &common.ConnectivityError{Store: "target", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &common.ConnectivityError{Store: "target", Err: err}
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	s := New(db, opts.TablePrefix)
	if err := s.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection.
func New(db *gorm.DB, prefix string) *Store {
	return &Store{db: db, prefix: prefix}
}

// DB returns the underlying database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Prefix returns the namespace prefix
func (s *Store) Prefix() string {
	return s.prefix
}

// Table returns the namespaced name of a base table.
func (s *Store) Table(base string) string {
	return s.prefix + base
}

// Dialect is the driver name, "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.db.Dialector.Name()
}

// IsPostgres reports whether the store runs on Postgres.
func (s *Store) IsPostgres() bool {
	return s.Dialect() == "postgres"
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &common.ConnectivityError{Store: "target", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &common.ConnectivityError{Store: "target", Err: err}
	}
	return nil
}

// Close disconnects from the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Query runs a parameterized statement and returns its rows as column maps.
// Values are plain driver values; text arrives as string on every driver.
func (s *Store) Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error) {
	rows, err := s.db.WithContext(ctx).Raw(sql, params...).Rows()
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// Exec runs a parameterized statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, sql string, params ...any) (int64, error) {
	res := s.db.WithContext(ctx).Exec(sql, params...)
	if res.Error != nil {
		return 0, fmt.Errorf("exec: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Transaction runs fn in a transaction; any error rolls back every write of fn.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Count returns the number of rows in a base table.
func (s *Store) Count(ctx context.Context, base string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table(s.Table(base)).Count(&n).Error
	return n, err
}

// Clear removes every row of the given base tables in one statement on
// Postgres. Referencing tables must be listed too, dependents first; nothing
// cascades.
func (s *Store) Clear(ctx context.Context, bases ...string) error {
	if len(bases) == 0 {
		return nil
	}
	db := s.db.WithContext(ctx)
	if s.IsPostgres() {
		names := make([]string, len(bases))
		for i, b := range bases {
			names[i] = s.Table(b)
		}
		return db.Exec("TRUNCATE TABLE " + strings.Join(names, ", ")).Error
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, b := range bases {
			if err := tx.Exec(fmt.Sprintf("DELETE FROM %s", s.Table(b))).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// HasTable reports whether the namespaced table exists.
func (s *Store) HasTable(base string) bool {
	return s.db.Migrator().HasTable(s.Table(base))
}

// Existing returns which of ids are present in the id column of a base table.
func (s *Store) Existing(ctx context.Context, base string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += existingChunk {
		end := start + existingChunk
		if end > len(ids) {
			end = len(ids)
		}
		var hits []string
		err := s.db.WithContext(ctx).Table(s.Table(base)).
			Where("id IN ?", ids[start:end]).
			Pluck("id", &hits).Error
		if err != nil {
			return nil, err
		}
		for _, id := range hits {
			found[id] = true
		}
	}
	return found, nil
}
