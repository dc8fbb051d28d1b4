package store

import (
	"context"
	"fmt"
)

// CommandStat is one row of command usage.
type CommandStat struct {
	Name        string
	Plugin      string
	Invocations int64
	LastUsed    string // RFC 3339, "" when never recorded
}

// RecordCommand bumps the usage counter for a command.
func (s *Store) RecordCommand(ctx context.Context, name, plugin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_stats (name, plugin, invocations, last_used)
		VALUES (?, ?, 1, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(name, plugin) DO UPDATE SET
			invocations = invocations + 1,
			last_used = excluded.last_used
	`, name, plugin)
	if err != nil {
		return fmt.Errorf("recording %s: %w", name, err)
	}

	return nil
}

// CommandStats returns usage counters, most used first.
func (s *Store) CommandStats(ctx context.Context) ([]CommandStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, plugin, invocations, COALESCE(last_used, '')
		FROM command_stats
		ORDER BY invocations DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying command stats: %w", err)
	}
	defer rows.Close()

	var stats []CommandStat
	for rows.Next() {
		var st CommandStat
		if err := rows.Scan(&st.Name, &st.Plugin, &st.Invocations, &st.LastUsed); err != nil {
			return nil, fmt.Errorf("scanning command stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying command stats: %w", err)
	}

	return stats, nil
}
