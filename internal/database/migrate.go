package database

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrations holds the versioned goose migrations for the booking schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const migrationsDir = "migrations"

var gooseRun = goose.RunContext // mockable

// Migrate brings the schema up to the latest embedded version.
func Migrate(ctx context.Context, db *sql.DB, log *zap.Logger) error {
	goose.SetBaseFS(Migrations)
	goose.SetLogger(gooseLogger{log.Sugar()})
	if err := goose.SetDialect("mysql"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	if err := gooseRun(ctx, "up", db, migrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// gooseLogger routes goose progress lines through zap.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.Infof(format, v...)
}
