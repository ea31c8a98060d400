package db

import (
	"database/sql"
	"fmt"
)

// CreateLayer adds one taxonomy bucket.
func (db *DB) CreateLayer(l Layer) (Layer, error) {
	var out Layer
	err := db.QueryRow(
		`INSERT INTO layer (name, color, position) VALUES (?, ?, ?)
		 RETURNING id, name, color, position`,
		l.Name, l.Color, l.Position,
	).Scan(&out.ID, &out.Name, &out.Color, &out.Position)
	if err != nil {
		return Layer{}, fmt.Errorf("insert layer: %w", err)
	}
	return out, nil
}

// GetLayer fetches one layer by id.
func (db *DB) GetLayer(id int64) (Layer, bool, error) {
	var l Layer
	err := db.QueryRow(`SELECT id, name, color, position FROM layer WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.Color, &l.Position)
	if err != nil {
		if err == sql.ErrNoRows {
			return Layer{}, false, nil
		}
		return Layer{}, false, fmt.Errorf("get layer: %w", err)
	}
	return l, true, nil
}

// ListLayers returns the taxonomy in display order.
func (db *DB) ListLayers() ([]Layer, error) {
	rows, err := db.Query(`SELECT id, name, color, position FROM layer ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list layer: %w", err)
	}
	defer rows.Close()

	var layers []Layer
	for rows.Next() {
		var l Layer
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Position); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return layers, nil
}

// UpdateLayer overwrites one layer's attributes.
func (db *DB) UpdateLayer(l Layer) error {
	res, err := db.Exec(`UPDATE layer SET name = ?, color = ?, position = ? WHERE id = ?`,
		l.Name, l.Color, l.Position, l.ID)
	if err != nil {
		return fmt.Errorf("update layer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteLayer removes a layer together with its rules. Findings referencing it
// are detached, never deleted.
func (db *DB) DeleteLayer(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE finding SET layer_id = NULL WHERE layer_id = ?`, id); err != nil {
		return fmt.Errorf("detach layer findings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM layer_rule WHERE layer_id = ?`, id); err != nil {
		return fmt.Errorf("delete layer rules: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM layer WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit layer delete: %w", err)
	}
	return nil
}

// CreateLayerRule adds one match rule to a layer.
func (db *DB) CreateLayerRule(r LayerRule) (LayerRule, error) {
	var out LayerRule
	err := db.QueryRow(
		`INSERT INTO layer_rule (layer_id, match_field, pattern, priority) VALUES (?, ?, ?, ?)
		 RETURNING id, layer_id, match_field, pattern, priority`,
		r.LayerID, r.MatchField, r.Pattern, r.Priority,
	).Scan(&out.ID, &out.LayerID, &out.MatchField, &out.Pattern, &out.Priority)
	if err != nil {
		return LayerRule{}, fmt.Errorf("insert layer_rule: %w", err)
	}
	return out, nil
}

// GetLayerRule fetches one rule by id.
func (db *DB) GetLayerRule(id int64) (LayerRule, bool, error) {
	var r LayerRule
	err := db.QueryRow(`SELECT id, layer_id, match_field, pattern, priority FROM layer_rule WHERE id = ?`, id).
		Scan(&r.ID, &r.LayerID, &r.MatchField, &r.Pattern, &r.Priority)
	if err != nil {
		if err == sql.ErrNoRows {
			return LayerRule{}, false, nil
		}
		return LayerRule{}, false, fmt.Errorf("get layer_rule: %w", err)
	}
	return r, true, nil
}

// ListLayerRules returns one layer's rules in evaluation order.
func (db *DB) ListLayerRules(layerID int64) ([]LayerRule, error) {
	return db.queryRules(`SELECT id, layer_id, match_field, pattern, priority
		FROM layer_rule WHERE layer_id = ? ORDER BY priority DESC, id`, layerID)
}

// ListAllRulesOrdered returns every rule in evaluation order: priority
// descending, insertion order breaking ties.
func (db *DB) ListAllRulesOrdered() ([]LayerRule, error) {
	return db.queryRules(`SELECT id, layer_id, match_field, pattern, priority
		FROM layer_rule ORDER BY priority DESC, id`)
}

func (db *DB) queryRules(query string, args ...any) ([]LayerRule, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list layer_rule: %w", err)
	}
	defer rows.Close()

	var rules []LayerRule
	for rows.Next() {
		var r LayerRule
		if err := rows.Scan(&r.ID, &r.LayerID, &r.MatchField, &r.Pattern, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan layer_rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

// UpdateLayerRule overwrites one rule.
func (db *DB) UpdateLayerRule(r LayerRule) error {
	res, err := db.Exec(`UPDATE layer_rule SET layer_id = ?, match_field = ?, pattern = ?, priority = ? WHERE id = ?`,
		r.LayerID, r.MatchField, r.Pattern, r.Priority, r.ID)
	if err != nil {
		return fmt.Errorf("update layer_rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteLayerRule removes one rule.
func (db *DB) DeleteLayerRule(id int64) error {
	res, err := db.Exec(`DELETE FROM layer_rule WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete layer_rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
