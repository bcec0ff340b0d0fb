package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPollsOpenRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	open, err := store.LoadPollsOpen(ctx)
	if err != nil || open {
		t.Fatalf("fresh store: open=%v err=%v", open, err)
	}
	wrote, err := store.SavePollsOpen(ctx, true)
	if err != nil || !wrote {
		t.Fatalf("SavePollsOpen: wrote=%v err=%v", wrote, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	open, err = reopened.LoadPollsOpen(ctx)
	if err != nil || !open {
		t.Fatalf("after reopen: open=%v err=%v", open, err)
	}
}

func TestSavePollsOpenSkipsUnchangedValue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadPollsOpen(ctx); err != nil {
		t.Fatalf("LoadPollsOpen: %v", err)
	}
	if wrote, err := store.SavePollsOpen(ctx, false); err != nil || wrote {
		t.Fatalf("saving the loaded value should be skipped: wrote=%v err=%v", wrote, err)
	}
	if wrote, err := store.SavePollsOpen(ctx, true); err != nil || !wrote {
		t.Fatalf("expected write on change: wrote=%v err=%v", wrote, err)
	}
	if wrote, err := store.SavePollsOpen(ctx, true); err != nil || wrote {
		t.Fatalf("expected repeated save skipped: wrote=%v err=%v", wrote, err)
	}
}

func TestOnlyPollsOpenIsPersisted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.SavePollsOpen(ctx, true); err != nil {
		t.Fatalf("SavePollsOpen: %v", err)
	}

	rows, err := store.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		tables = append(tables, name)
	}
	_ = rows.Close()
	if len(tables) != 2 || tables[0] != "schema_version" || tables[1] != "session_state" {
		t.Fatalf("unexpected tables %v", tables)
	}

	var keys int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM session_state").Scan(&keys); err != nil {
		t.Fatalf("count keys: %v", err)
	}
	if keys != 1 {
		t.Fatalf("expected only the polls-open key, got %d rows", keys)
	}
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = ?", schemaVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

type busyErr struct{}

func (busyErr) Error() string { return "database is locked (5) (SQLITE_BUSY)" }
func (busyErr) Code() int     { return sqliteBusyCode }

func TestRetryOnBusy(t *testing.T) {
	t.Run("retries busy then succeeds", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(context.Background(), func() error {
			calls++
			if calls < 3 {
				return busyErr{}
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(context.Background(), func() error {
			calls++
			return busyErr{}
		})
		if !isSQLiteBusy(err) || calls != busyRetryAttempts {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("constraint failed")
		err := retryOnBusy(context.Background(), func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Fatalf("err=%v calls=%d", err, calls)
		}
	})
}
