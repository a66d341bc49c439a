package database

import (
	"embed"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
)

// Migrations holds the embedded goose SQL files.
//
//go:embed migrations/*.sql
var Migrations embed.FS

func init() {
	goose.SetBaseFS(Migrations)
	goose.SetLogger(goose.NopLogger())
}

// Migrate applies all pending migrations.
func (db *DB) Migrate() error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// RunMigrationCommand executes a goose command (up, up-one, down, status, version, reset).
// Progress and status output go to stdout.
func (db *DB) RunMigrationCommand(cmd string) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetLogger(log.New(os.Stdout, "", 0))
	defer goose.SetLogger(goose.NopLogger())

	var err error
	switch cmd {
	case "up":
		err = goose.Up(db.DB, "migrations")
	case "up-one":
		err = goose.UpByOne(db.DB, "migrations")
	case "down":
		err = goose.Down(db.DB, "migrations")
	case "status":
		err = goose.Status(db.DB, "migrations")
	case "version":
		err = goose.Version(db.DB, "migrations")
	case "reset":
		err = goose.Reset(db.DB, "migrations")
	default:
		return fmt.Errorf("unknown migration command: %s", cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}
