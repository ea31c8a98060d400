package db

import (
	"database/sql"
	"fmt"
)

const hostColumns = `id, ip, dns, netbios, os, os_cpe, first_seen, last_seen`

func scanHost(row *sql.Row) (Host, error) {
	var h Host
	err := row.Scan(&h.ID, &h.IP, &h.DNS, &h.NetBIOS, &h.OS, &h.OSCPE, &h.FirstSeen, &h.LastSeen)
	return h, err
}

// GetHostByIP fetches a host by its network address.
func (db *DB) GetHostByIP(ip string) (Host, bool, error) {
	h, err := scanHost(db.QueryRow(`SELECT `+hostColumns+` FROM host WHERE ip = ?`, ip))
	if err != nil {
		if err == sql.ErrNoRows {
			return Host{}, false, nil
		}
		return Host{}, false, fmt.Errorf("get host: %w", err)
	}
	return h, true, nil
}

// upsertHostSightingSQL records one sighting of a host identity. Descriptive
// fields are never overwritten with blank values, first_seen is set once, and
// last_seen only moves forward.
const upsertHostSightingSQL = `
INSERT INTO host (ip, dns, netbios, os, os_cpe, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(ip) DO UPDATE SET
  dns     = CASE WHEN excluded.dns     <> '' THEN excluded.dns     ELSE host.dns     END,
  netbios = CASE WHEN excluded.netbios <> '' THEN excluded.netbios ELSE host.netbios END,
  os      = CASE WHEN excluded.os      <> '' THEN excluded.os      ELSE host.os      END,
  os_cpe  = CASE WHEN excluded.os_cpe  <> '' THEN excluded.os_cpe  ELSE host.os_cpe  END,
  first_seen = COALESCE(host.first_seen, excluded.first_seen),
  last_seen  = CASE
      WHEN excluded.last_seen IS NULL THEN host.last_seen
      WHEN host.last_seen IS NULL OR excluded.last_seen > host.last_seen THEN excluded.last_seen
      ELSE host.last_seen END
RETURNING ` + hostColumns

// UpsertHostSighting inserts or refreshes a host keyed by IP.
func (db *DB) UpsertHostSighting(h Host, seenAt sql.NullTime) (Host, error) {
	out, err := scanHost(db.QueryRow(upsertHostSightingSQL, h.IP, h.DNS, h.NetBIOS, h.OS, h.OSCPE, seenAt, seenAt))
	if err != nil {
		return Host{}, fmt.Errorf("upsert host: %w", err)
	}
	return out, nil
}

// UpsertHostSighting inserts or refreshes a host keyed by IP within a transaction.
func (tx *Tx) UpsertHostSighting(h Host, seenAt sql.NullTime) (Host, error) {
	out, err := scanHost(tx.QueryRow(upsertHostSightingSQL, h.IP, h.DNS, h.NetBIOS, h.OS, h.OSCPE, seenAt, seenAt))
	if err != nil {
		return Host{}, fmt.Errorf("upsert host: %w", err)
	}
	return out, nil
}

// CountHosts returns the number of distinct host identities.
func (db *DB) CountHosts() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM host`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count host: %w", err)
	}
	return n, nil
}
