package database

import (
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

type zerologWriter struct {
	log zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...interface{}) {
	w.log.Info().Msgf(format, args...)
}

// NewGormLogger routes GORM's SQL log onto zerolog.
func NewGormLogger(log zerolog.Logger, level gormlogger.LogLevel, slow time.Duration) gormlogger.Interface {
	if level == 0 {
		level = gormlogger.Warn
	}
	if slow <= 0 {
		slow = time.Second
	}
	return gormlogger.New(zerologWriter{log: log.With().Str("component", "gorm").Logger()}, gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
