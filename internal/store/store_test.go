package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/relayscan/pkg/plugin"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTable(name string) plugin.Migration {
	return plugin.Migration{
		Version:     1,
		Description: "create " + name,
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE " + name + " (id INTEGER PRIMARY KEY, name TEXT)")
			return err
		},
	}
}

func TestNew_creates_database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "dir", "db")); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestTx(t *testing.T) {
	tests := []struct {
		name      string
		fnErr     error
		wantCount int
	}{
		{name: "commit", fnErr: nil, wantCount: 1},
		{name: "rollback", fnErr: sql.ErrNoRows, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()
			if _, err := s.DB().ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
				t.Fatalf("create table: %v", err)
			}

			err := s.Tx(ctx, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, "INSERT INTO test (id, name) VALUES (1, 'relay')"); err != nil {
					return err
				}
				return tt.fnErr
			})
			if !errors.Is(err, tt.fnErr) {
				t.Fatalf("Tx() error = %v, want %v", err, tt.fnErr)
			}

			var count int
			if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count); err != nil {
				t.Fatalf("count: %v", err)
			}
			if count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestMigrate_skips_applied(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	calls := 0
	m := []plugin.Migration{{
		Version:     1,
		Description: "count calls",
		Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE counted (id INTEGER PRIMARY KEY)")
			return err
		},
	}}

	for i := 0; i < 3; i++ {
		if err := s.Migrate(ctx, "recon", m); err != nil {
			t.Fatalf("Migrate #%d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("Up called %d times, want 1", calls)
	}
}

func TestMigrate_different_plugins_isolated(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.Migrate(ctx, "recon", []plugin.Migration{createTable("recon_things")}); err != nil {
		t.Fatalf("Migrate recon: %v", err)
	}
	// Same version number under another plugin must still run.
	if err := s.Migrate(ctx, "control", []plugin.Migration{createTable("control_things")}); err != nil {
		t.Fatalf("Migrate control: %v", err)
	}

	var count int
	err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("_migrations rows = %d, want 2", count)
	}
}

func TestMigrate_failure_rolls_back(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	m := []plugin.Migration{
		createTable("kept"),
		{
			Version:     2,
			Description: "half applied",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec("CREATE TABLE dropped (id INTEGER)"); err != nil {
					return err
				}
				return boom
			},
		},
	}
	err := s.Migrate(ctx, "recon", m)
	if !errors.Is(err, boom) {
		t.Fatalf("Migrate() error = %v, want %v", err, boom)
	}

	var name string
	err = s.DB().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='dropped'").Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("table from failed migration exists (err = %v)", err)
	}
	err = s.DB().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='kept'").Scan(&name)
	if err != nil {
		t.Errorf("earlier migration lost: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := tempDB(t)
	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
	var fk int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		current string
		wantErr bool
	}{
		{name: "same version", stored: "1.2.0", current: "1.2.0"},
		{name: "newer binary", stored: "1.2.0", current: "1.3.0"},
		{name: "patch upgrade", stored: "v1.2.0", current: "1.2.1"},
		{name: "older binary rejected", stored: "2.0.0", current: "1.9.9", wantErr: true},
		{name: "dev binary", stored: "2.0.0", current: "dev"},
		{name: "dev stored", stored: "dev", current: "0.1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()
			if err := s.CheckVersion(ctx, tt.stored); err != nil {
				t.Fatalf("first CheckVersion: %v", err)
			}
			err := s.CheckVersion(ctx, tt.current)
			if tt.wantErr {
				if !errors.Is(err, ErrNewerSchema) {
					t.Errorf("CheckVersion() error = %v, want ErrNewerSchema", err)
				}
				return
			}
			if err != nil {
				t.Errorf("CheckVersion() error = %v", err)
			}
		})
	}
}
