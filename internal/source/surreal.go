package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/libreviews/revdal/internal/common"
	"github.com/rs/zerolog"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// SurrealConfig locates the legacy SurrealDB database.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	// Timeout bounds connecting, signing in and selecting the database.
	Timeout time.Duration
}

// Surreal reads tables of a SurrealDB database.
type Surreal struct {
	db  *surrealdb.DB
	log zerolog.Logger
}

// OpenSurreal connects, signs in and selects the namespace and database.
func OpenSurreal(ctx context.Context, cfg SurrealConfig, log zerolog.Logger) (*Surreal, error) {
	ctx, cancel := common.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, &common.ConnectivityError{Store: "source", Err: err}
	}
	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}); err != nil {
			_ = db.Close(context.WithoutCancel(ctx))
			return nil, &common.ConnectivityError{Store: "source", Err: fmt.Errorf("sign in: %w", err)}
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(context.WithoutCancel(ctx))
		return nil, &common.ConnectivityError{Store: "source", Err: fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)}
	}
	log.Info().Str("url", cfg.URL).Str("namespace", cfg.Namespace).Str("database", cfg.Database).Msg("connected to source store")
	return &Surreal{db: db, log: log}, nil
}

func (s *Surreal) ListTables(ctx context.Context) ([]string, error) {
	res, err := surrealdb.Query[map[string]any](ctx, s.db, "INFO FOR DB", nil)
	if err != nil {
		return nil, &common.ConnectivityError{Store: "source", Err: err}
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	tables, _ := (*res)[0].Result["tables"].(map[string]any)
	out := make([]string, 0, len(tables))
	for name := range tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type countRow struct {
	C int64 `json:"c"`
}

func (s *Surreal) Count(ctx context.Context, table string) (int64, error) {
	res, err := surrealdb.Query[[]countRow](ctx, s.db,
		"SELECT count() AS c FROM type::table($tb) GROUP ALL",
		map[string]any{"tb": table})
	if err != nil {
		return 0, &common.ConnectivityError{Store: "source", Err: fmt.Errorf("count %s: %w", table, err)}
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return 0, nil
	}
	return (*res)[0].Result[0].C, nil
}

func (s *Surreal) FetchBatch(ctx context.Context, table string, offset, limit int) ([]Record, error) {
	return s.selectRecords(ctx, table,
		"SELECT * FROM type::table($tb) ORDER BY id LIMIT $limit START $start",
		map[string]any{"tb": table, "limit": limit, "start": offset})
}

func (s *Surreal) Sample(ctx context.Context, table string, n int) ([]Record, error) {
	return s.selectRecords(ctx, table,
		"SELECT * FROM type::table($tb) ORDER BY rand() LIMIT $limit",
		map[string]any{"tb": table, "limit": n})
}

func (s *Surreal) selectRecords(ctx context.Context, table, sql string, vars map[string]any) ([]Record, error) {
	res, err := surrealdb.Query[[]map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return nil, &common.ConnectivityError{Store: "source", Err: fmt.Errorf("select %s: %w", table, err)}
	}
	if res == nil || len(*res) == 0 {
		return nil, nil
	}
	rows := (*res)[0].Result
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = Record(normalize(row).(map[string]any))
	}
	return out, nil
}

func (s *Surreal) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// normalize replaces SurrealDB wire types with plain Go values: record ids
// become their id part, datetimes become time.Time.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case models.RecordID:
		return fmt.Sprint(t.ID)
	case *models.RecordID:
		if t == nil {
			return nil
		}
		return fmt.Sprint(t.ID)
	case models.CustomDateTime:
		return t.Time
	case *models.CustomDateTime:
		if t == nil {
			return nil
		}
		return t.Time
	default:
		return v
	}
}
