package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Bucket.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Bucket scopes key/value access to one plugin id. Values are stored as
// JSON, so anything a plugin hands over must marshal cleanly.
type Bucket struct {
	s      *Store
	plugin string
}

// Bucket returns key/value access scoped to the given plugin id.
func (s *Store) Bucket(plugin string) *Bucket {
	return &Bucket{s: s, plugin: plugin}
}

// Plugin returns the plugin id the bucket is scoped to.
func (b *Bucket) Plugin() string {
	return b.plugin
}

// Put stores value under key. Existing keys are overwritten.
func (b *Bucket) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("json.Marshal(): %w", err)
	}

	_, err = b.s.db.ExecContext(ctx, `
		INSERT INTO kv (plugin, key, value, updated_at)
		VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(plugin, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, b.plugin, key, string(data))
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", b.plugin, key, err)
	}

	return nil
}

// Get loads the value under key into out, which must be a non-nil pointer.
// The error wraps ErrNotFound when the key does not exist.
func (b *Bucket) Get(ctx context.Context, key string, out interface{}) error {
	if out == nil {
		return fmt.Errorf("get %s/%s: nil target", b.plugin, key)
	}

	var data string
	err := b.s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE plugin = ? AND key = ?`,
		b.plugin, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get %s/%s: %w", b.plugin, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", b.plugin, key, err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("unmarshaling %s/%s: %w", b.plugin, key, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE plugin = ? AND key = ?`,
		b.plugin, key,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", b.plugin, key, err)
	}

	return nil
}

// Keys lists the bucket's keys in sorted order.
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE plugin = ? ORDER BY key`,
		b.plugin,
	)
	if err != nil {
		return nil, fmt.Errorf("listing keys for %s: %w", b.plugin, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning key for %s: %w", b.plugin, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing keys for %s: %w", b.plugin, err)
	}

	return keys, nil
}
