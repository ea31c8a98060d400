package db

import (
	"database/sql"
	"fmt"
	"strconv"
)

// GetSetting reads one application setting by key.
func (db *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM app_setting WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get app_setting: %w", err)
	}
	return value, true, nil
}

// FreshnessThresholds returns the stale-after and hide-after day counts used
// by downstream reporting. The pipeline reads these, it never writes them.
func (db *DB) FreshnessThresholds() (staleDays, hideDays int, err error) {
	staleDays, err = db.intSetting("freshness_stale_days", 7)
	if err != nil {
		return 0, 0, err
	}
	hideDays, err = db.intSetting("freshness_hide_days", 30)
	if err != nil {
		return 0, 0, err
	}
	return staleDays, hideDays, nil
}

func (db *DB) intSetting(key string, fallback int) (int, error) {
	raw, ok, err := db.GetSetting(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}
