package db

import (
	"database/sql"
	"fmt"
)

const watchPathColumns = `id, path, pattern, recursive, enabled, ignore_before, created_at, updated_at`

// CreateWatchPath registers one monitored directory.
func (db *DB) CreateWatchPath(w WatchPath) (WatchPath, error) {
	var out WatchPath
	err := db.QueryRow(
		`INSERT INTO watch_path (path, pattern, recursive, enabled, ignore_before)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+watchPathColumns,
		w.Path, w.Pattern, w.Recursive, w.Enabled, w.IgnoreBefore,
	).Scan(&out.ID, &out.Path, &out.Pattern, &out.Recursive, &out.Enabled, &out.IgnoreBefore, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return WatchPath{}, fmt.Errorf("insert watch_path: %w", err)
	}
	return out, nil
}

// GetWatchPath fetches one monitored directory by id.
func (db *DB) GetWatchPath(id int64) (WatchPath, bool, error) {
	var w WatchPath
	err := db.QueryRow(`SELECT `+watchPathColumns+` FROM watch_path WHERE id = ?`, id).
		Scan(&w.ID, &w.Path, &w.Pattern, &w.Recursive, &w.Enabled, &w.IgnoreBefore, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return WatchPath{}, false, nil
		}
		return WatchPath{}, false, fmt.Errorf("get watch_path: %w", err)
	}
	return w, true, nil
}

// ListWatchPaths returns every configured directory.
func (db *DB) ListWatchPaths() ([]WatchPath, error) {
	return db.queryWatchPaths(`SELECT ` + watchPathColumns + ` FROM watch_path ORDER BY id`)
}

// ListEnabledWatchPaths returns the directories the watcher should poll. Read
// every cycle so configuration changes take effect without a restart.
func (db *DB) ListEnabledWatchPaths() ([]WatchPath, error) {
	return db.queryWatchPaths(`SELECT ` + watchPathColumns + ` FROM watch_path WHERE enabled = 1 ORDER BY id`)
}

func (db *DB) queryWatchPaths(query string, args ...any) ([]WatchPath, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list watch_path: %w", err)
	}
	defer rows.Close()

	var paths []WatchPath
	for rows.Next() {
		var w WatchPath
		if err := rows.Scan(&w.ID, &w.Path, &w.Pattern, &w.Recursive, &w.Enabled, &w.IgnoreBefore, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watch_path: %w", err)
		}
		paths = append(paths, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

// UpdateWatchPath overwrites one monitored directory's configuration.
func (db *DB) UpdateWatchPath(w WatchPath) error {
	res, err := db.Exec(
		`UPDATE watch_path SET path = ?, pattern = ?, recursive = ?, enabled = ?, ignore_before = ?, updated_at = CURRENT_TIMESTAMP
		  WHERE id = ?`,
		w.Path, w.Pattern, w.Recursive, w.Enabled, w.IgnoreBefore, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update watch_path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteWatchPath removes one monitored directory.
func (db *DB) DeleteWatchPath(id int64) error {
	res, err := db.Exec(`DELETE FROM watch_path WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch_path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
