// Package migrations applies the schema with goose from SQL files embedded
// in the binary, so a deployment is a single artifact.
package migrations

import (
	"embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// Up applies all pending migrations over the given pool.
func Up(pool *pgxpool.Pool, logger *log.Logger) error {
	goose.SetBaseFS(embedded)
	goose.SetLogger(gooseLogger{logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.Up(db, "sql"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// gooseLogger adapts the process logger to goose's interface.
type gooseLogger struct {
	log *log.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) { g.log.Printf(format, v...) }
func (g gooseLogger) Fatalf(format string, v ...interface{}) { g.log.Fatalf(format, v...) }
