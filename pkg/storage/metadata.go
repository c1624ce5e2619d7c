package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	sq "github.com/Masterminds/squirrel"
)

// GetMetadata returns the value stored under key and whether it exists.
func (h *Handle) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	row, err := queryRowB(ctx, h.conn, sq.Select("value").From("metadata").Where(sq.Eq{"key": key}))
	if err != nil {
		return "", false, err
	}
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, dbErr("get metadata "+key, err)
	}
	return value, true, nil
}

// GetIntMetadata reads an integer value. Missing or malformed values yield def.
func (h *Handle) GetIntMetadata(ctx context.Context, key string, def int) (int, error) {
	raw, ok, err := h.GetMetadata(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		h.log.Warnf("Metadata %s holds non-integer value %q, using %d", key, raw, def)
		return def, nil
	}
	return n, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (h *Handle) SetMetadata(ctx context.Context, key, value string) error {
	_, err := execB(ctx, h.conn, sq.Insert("metadata").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value"))
	if err != nil {
		return dbErr("set metadata "+key, err)
	}
	return nil
}

// SetIntMetadata stores an integer value.
func (h *Handle) SetIntMetadata(ctx context.Context, key string, value int) error {
	return h.SetMetadata(ctx, key, strconv.Itoa(value))
}

// DeleteMetadata removes key. Deleting a missing key is not an error.
func (h *Handle) DeleteMetadata(ctx context.Context, key string) error {
	if _, err := execB(ctx, h.conn, sq.Delete("metadata").Where(sq.Eq{"key": key})); err != nil {
		return dbErr("delete metadata "+key, err)
	}
	return nil
}

// CountMetadataPrefix counts keys starting with prefix.
func (h *Handle) CountMetadataPrefix(ctx context.Context, prefix string) (int, error) {
	row, err := queryRowB(ctx, h.conn, sq.Select("COUNT(*)").From("metadata").
		Where("substr(key, 1, ?) = ?", len(prefix), prefix))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, dbErr("count metadata prefix "+prefix, err)
	}
	return n, nil
}
