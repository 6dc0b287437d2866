package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/livedb/internal/tree"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// The nodes table holds one row per leaf of the tree. path is the full
// slash-joined location including ".priority" and ".value" segments; value
// is the JSON encoding of the scalar.

// loadRoot reads every row and rebuilds the tree.
func loadRoot(db *sql.DB) (any, error) {
	rows, err := db.Query(`SELECT path, value FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	leaves := make(map[string]any)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding node %s: %w", path, err)
		}
		leaves[path] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return tree.Unflatten(leaves), nil
}

// writeRegion replaces the rows under region with the leaves of after at
// region, in one transaction.
func writeRegion(db *sql.DB, region types.Path, after any) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning write transaction: %w", err)
	}
	defer tx.Rollback()

	if region.IsRoot() {
		if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
			return fmt.Errorf("clearing nodes: %w", err)
		}
	} else {
		prefix := region.String()
		_, err := tx.Exec(
			`DELETE FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
			prefix, len(prefix)+1, prefix+"/",
		)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", prefix, err)
		}
	}

	leaves := tree.Flatten(tree.Get(after, region.Segments()))
	if len(leaves) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for rel, v := range leaves {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", rel, err)
			}
			if _, err := stmt.Exec(tree.JoinKey(region, rel), string(raw), now); err != nil {
				return fmt.Errorf("inserting %s: %w", rel, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write transaction: %w", err)
	}
	return nil
}

// countRows returns the number of stored leaves.
func countRows(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
