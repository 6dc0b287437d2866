// This file provides JSONL export and import of the node table, with atomic
// file persistence.
package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/livedb/internal/tree"
	"github.com/mesh-intelligence/livedb/pkg/types"
)

// nodeRecord is one line of an export: a leaf and its full path.
type nodeRecord struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Export writes every leaf as one JSON line, ordered by path.
func (b *Backend) Export(w io.Writer) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrDetached
	}

	rows, err := b.db.Query(`SELECT path, value FROM nodes ORDER BY path`)
	if err != nil {
		return fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	bw := bufio.NewWriter(w)
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return fmt.Errorf("scanning node: %w", err)
		}
		line, err := json.Marshal(struct {
			Path  string          `json:"path"`
			Value json.RawMessage `json:"value"`
		}{path, json.RawMessage(raw)})
		if err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating nodes: %w", err)
	}
	return bw.Flush()
}

// Import replaces the whole tree with the records read from r. Empty and
// malformed lines are skipped. Listeners see the change as one write.
func (b *Backend) Import(ctx context.Context, r io.Reader) error {
	records, err := readRecords(r)
	if err != nil {
		return err
	}
	leaves := make(map[string]any, len(records))
	for _, rec := range records {
		leaves[rec.Path] = rec.Value
	}
	return b.Set(ctx, types.Root(), tree.Unflatten(leaves))
}

// ExportFile atomically writes the export to path.
func (b *Backend) ExportFile(path string) error {
	return writeAtomic(path, b.Export)
}

// ImportFile imports the export stored at path.
func (b *Backend) ImportFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return b.Import(ctx, f)
}

func readRecords(r io.Reader) ([]nodeRecord, error) {
	var records []nodeRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec nodeRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Path == "" && rec.Value == nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	return records, nil
}

// writeAtomic writes through the temp-file, fsync, rename pattern.
func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
