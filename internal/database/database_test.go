package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMigrate_CreatesTables(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	for _, table := range []string{"link_preview_cache", "usage_counter", "kv_store"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.db")
	db, err := Open(path, Options{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestRunMigrationCommand_Unknown(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrationCommand("sideways"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	const conns = 4
	db, err := Open(filepath.Join(t.TempDir(), "preview.db"), Options{MaxOpenConns: conns, BusyTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := range conns {
		// Hold every connection so the pool has to open a new one each round.
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		defer conn.Close()

		var busy, fk int
		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("conn %d journal_mode: %v", i, err)
		}
		if busy != 3000 || fk != 1 || mode != "wal" {
			t.Errorf("conn %d: busy_timeout=%d foreign_keys=%d journal_mode=%s", i, busy, fk, mode)
		}
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		busy time.Duration
		want string
	}{
		{":memory:", 0, ":memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"},
		{"data/p.db", 250 * time.Millisecond, "data/p.db?_pragma=busy_timeout(250)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path, tt.busy); got != tt.want {
			t.Errorf("dsn(%q, %v) = %q, want %q", tt.path, tt.busy, got, tt.want)
		}
	}
}
