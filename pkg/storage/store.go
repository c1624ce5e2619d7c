package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

//go:embed schema.sql
var schema string

const (
	maxIDAttempts = 5
	busyTimeoutMS = 5000
)

// Store owns the SQLite database. It hands out one Handle per worker; a
// Handle wraps a dedicated connection and is never shared.
type Store struct {
	db    *sql.DB
	log   *logrus.Entry
	newID func() string
	now   func() time.Time
}

// Open creates (if needed) and opens the database at path, applying the schema.
// Every connection runs in WAL mode with a busy timeout and immediate
// transactions so concurrent workers serialize their writes.
func Open(ctx context.Context, path string, logger *logrus.Entry) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create database directory %s: %w", utils.ErrFilesystem, dir, err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", utils.ErrDatabase, path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", utils.ErrDatabase, path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %w", utils.ErrDatabase, err)
	}

	logger.Infof("Database ready at %s", path)
	return &Store{
		db:    db,
		log:   logger,
		newID: uuid.NewString,
		now:   time.Now,
	}, nil
}

// Acquire returns a Handle backed by its own connection. The caller must Release it.
func (s *Store) Acquire(ctx context.Context) (*Handle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", utils.ErrDatabase, err)
	}
	return &Handle{conn: conn, store: s, log: s.log}, nil
}

// Close closes the database. Outstanding handles must be released first.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.log.Info("Closing database...")
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Handle is a single worker's view of the store.
type Handle struct {
	conn  *sql.Conn
	store *Store
	log   *logrus.Entry
}

// Release returns the underlying connection to the pool.
func (h *Handle) Release() error {
	return h.conn.Close()
}

// querier is satisfied by *sql.Conn and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction on the handle's connection.
func (h *Handle) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", utils.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", utils.ErrDatabase, err)
	}
	return nil
}

func execB(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build query: %w", utils.ErrDatabase, err)
	}
	return q.ExecContext(ctx, query, args...)
}

func queryB(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build query: %w", utils.ErrDatabase, err)
	}
	return q.QueryContext(ctx, query, args...)
}

func queryRowB(ctx context.Context, q querier, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build query: %w", utils.ErrDatabase, err)
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

// insertWithID inserts a row built by build, regenerating the id when it
// collides with an existing primary key.
func (h *Handle) insertWithID(ctx context.Context, q querier, table string, build func(id string) sq.InsertBuilder) (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id := h.store.newID()
		_, err := execB(ctx, q, build(id))
		if err == nil {
			return id, nil
		}
		if !isIDCollision(err, table) {
			return "", fmt.Errorf("%w: insert into %s: %w", utils.ErrDatabase, table, err)
		}
		h.log.WithFields(logrus.Fields{"table": table, "id": id, "attempt": attempt}).Warn("Generated id collided, regenerating")
	}
	return "", fmt.Errorf("%w: %s after %d attempts", utils.ErrIDCollision, table, maxIDAttempts)
}

func isIDCollision(err error, table string) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+table+".id")
}

// dbErr wraps err with ErrDatabase unless it already carries a storage sentinel. nil stays nil.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrIDCollision) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", utils.ErrDatabase, op, err)
}

// fieldsDiffer reports whether any column in next holds a different value than in stored.
func fieldsDiffer(stored, next map[string]any) bool {
	for k, v := range next {
		if stored[k] != v {
			return true
		}
	}
	return false
}

// encodeList renders an ordered list as JSON; nil encodes as [].
func encodeList[T any](xs []T) string {
	if len(xs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList[T any](raw string) []T {
	out := []T{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
