package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	keyPollsOpen = "polls_open"
	timeLayout   = time.RFC3339Nano
)

// Store persists session state that must survive a daemon restart.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	mu        sync.Mutex
	pollsOpen *bool
}

// Open creates or opens the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// LoadPollsOpen returns the persisted polls-open flag. A fresh database
// reports closed.
func (s *Store) LoadPollsOpen(ctx context.Context) (bool, error) {
	var value string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT value FROM session_state WHERE key = ?", keyPollsOpen).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		s.remember(false)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load polls open: %w", err)
	}
	open := value == "true"
	s.remember(open)
	return open, nil
}

// SavePollsOpen persists the polls-open flag. It writes only when the value
// differs from the last one loaded or saved, and reports whether it wrote.
func (s *Store) SavePollsOpen(ctx context.Context, open bool) (bool, error) {
	s.mu.Lock()
	unchanged := s.pollsOpen != nil && *s.pollsOpen == open
	s.mu.Unlock()
	if unchanged {
		return false, nil
	}

	value := "false"
	if open {
		value = "true"
	}
	err := s.exec(ctx,
		`INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keyPollsOpen, value, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("save polls open: %w", err)
	}
	s.remember(open)
	return true, nil
}

func (s *Store) remember(open bool) {
	s.mu.Lock()
	s.pollsOpen = &open
	s.mu.Unlock()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries op with exponential backoff while SQLite reports the
// database as busy. Other errors return immediately.
func retryOnBusy(ctx context.Context, op func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, busyRetryAttempts-1), ctx))
}
