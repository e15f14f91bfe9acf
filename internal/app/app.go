// Package app wires configuration into the stores and collaborators the
// commands need.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/libreviews/revdal/internal/catalog"
	"github.com/libreviews/revdal/internal/config"
	"github.com/libreviews/revdal/internal/database"
	"github.com/libreviews/revdal/internal/lock"
	"github.com/libreviews/revdal/internal/report"
	"github.com/libreviews/revdal/internal/search"
	"github.com/libreviews/revdal/internal/source"
	pkges "github.com/libreviews/revdal/pkg/elasticsearch"
	pkglogger "github.com/libreviews/revdal/pkg/logger"
	pkgredis "github.com/libreviews/revdal/pkg/redis"
	"github.com/libreviews/revdal/pkg/storage"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// Setup loads .env files and the config, and initialises the logger.
func Setup(configPath string, verbose bool) (*config.Config, zerolog.Logger, error) {
	dotenvFiles := config.LoadDotEnv()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := pkglogger.InitStructured(pkglogger.Options{
		Env:        cfg.App.Env,
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	log.Info().Str("config", configPath).Strs("env_files", dotenvFiles).Msg("configuration loaded")
	config.LogResolved(cfg, log)
	return cfg, log, nil
}

// OpenTarget connects to the Postgres target. verbose logs every statement.
func OpenTarget(ctx context.Context, cfg *config.Config, verbose bool, log zerolog.Logger) (*database.Store, error) {
	level := gormlogger.Warn
	if verbose {
		level = gormlogger.Info
	}
	return database.Open(ctx, database.Options{
		DSN:             cfg.Target.GetDSN(),
		TablePrefix:     cfg.Target.TablePrefix,
		MaxOpenConns:    cfg.Target.MaxOpenConns,
		MaxIdleConns:    cfg.Target.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Target.ConnMaxLifetime) * time.Second,
		LogLevel:        level,
		SlowThreshold:   time.Duration(cfg.Target.SlowQueryMS) * time.Millisecond,
	}, log)
}

// OpenSource connects to the configured document store.
func OpenSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) (source.Store, error) {
	switch cfg.Source.Driver {
	case "dump":
		mem, err := source.LoadDump(cfg.Source.DumpDir, cfg.Source.Seed)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", cfg.Source.DumpDir).Msg("reading source from dump")
		return mem, nil
	default:
		s, err := source.OpenSurreal(ctx, source.SurrealConfig{
			URL:       cfg.Source.URL,
			Namespace: cfg.Source.Namespace,
			Database:  cfg.Source.Database,
			Username:  cfg.Source.Username,
			Password:  cfg.Source.Password,
			Timeout:   cfg.SourceTimeout(),
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Locker returns a Redis locker when Redis is enabled. The returned close
// function is never nil.
func Locker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if !cfg.Redis.Enabled {
		return lock.Noop{}, func() {}, nil
	}
	client, err := pkgredis.NewClient(ctx, pkgredis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("run lock: %w", err)
	}
	return lock.NewRedis(client, cfg.LockTTL()), func() { _ = client.Close() }, nil
}

// Indexer returns an Elasticsearch indexer when enabled, with one index per
// kind that carries revisions.
func Indexer(ctx context.Context, cfg *config.Config, log zerolog.Logger) search.Indexer {
	if !cfg.Elasticsearch.Enabled {
		return search.Noop{}
	}
	client, err := pkges.NewClient(cfg.Elasticsearch.Addresses, cfg.Elasticsearch.Username, cfg.Elasticsearch.Password)
	if err != nil {
		log.Warn().Err(err).Msg("elasticsearch unavailable, indexing disabled")
		return search.Noop{}
	}
	idx := search.NewElastic(client, cfg.Elasticsearch.IndexPrefix)

	var kinds []string
	for _, k := range catalog.Plan() {
		if k.Class() == catalog.Versioned {
			kinds = append(kinds, k.Name())
		}
	}
	if err := idx.EnsureIndexes(ctx, kinds); err != nil {
		log.Warn().Err(err).Msg("failed to create search indexes")
	}
	return idx
}

// Uploader returns an S3 uploader for reports when storage is enabled.
func Uploader(cfg *config.Config, log zerolog.Logger) report.Uploader {
	if !cfg.Storage.Enabled {
		return nil
	}
	client, err := storage.NewS3Client(storage.S3Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Bucket:          cfg.Storage.Bucket,
		BasePath:        cfg.Storage.BasePath,
		ForcePathStyle:  cfg.Storage.ForcePathStyle,
	})
	if err != nil {
		log.Warn().Err(err).Msg("report upload disabled")
		return nil
	}
	return client
}
