package sqlite

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mesh-intelligence/livedb/pkg/types"
)

func TestExportOrderedJSONL(t *testing.T) {
	b := attachBackend(t, t.TempDir())
	ctx := context.Background()

	if err := b.Set(ctx, types.MustParsePath("b"), "two"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.SetWithPriority(ctx, types.MustParsePath("a"), 1, 5); err != nil {
		t.Fatalf("SetWithPriority failed: %v", err)
	}

	var buf bytes.Buffer
	if err := b.Export(&buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		`{"path":"a/.priority","value":5}`,
		`{"path":"a/.value","value":1}`,
		`{"path":"b","value":"two"}`,
	}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("expected %v, got %v", want, lines)
	}
}

func TestImportReplacesTree(t *testing.T) {
	b := attachBackend(t, t.TempDir())
	ctx := context.Background()

	if err := b.Set(ctx, types.MustParsePath("old"), true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	input := `{"path":"doctorStats/1/dayAmountEarned","value":10}

{broken line
{"path":"doctorStats/1/.priority","value":"p"}
`
	if err := b.Import(ctx, strings.NewReader(input)); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	root, _ := b.Read(types.Root())
	want := map[string]any{"doctorStats": map[string]any{"1": map[string]any{"dayAmountEarned": 10.0}}}
	if !reflect.DeepEqual(root.Value(), want) {
		t.Errorf("expected %v, got %v", want, root.Value())
	}
	if p := root.Child("doctorStats/1").Priority(); p != "p" {
		t.Errorf("expected priority p, got %v", p)
	}
}

func TestExportImportFileRoundTrip(t *testing.T) {
	src := attachBackend(t, t.TempDir())
	ctx := context.Background()
	value := map[string]any{"x": map[string]any{"y": "z", "n": 3}, "flag": false}
	if err := src.Set(ctx, types.MustParsePath("data"), value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	file := filepath.Join(t.TempDir(), "export.jsonl")
	if err := src.ExportFile(file); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(file))
	if len(entries) != 1 {
		t.Errorf("expected only the export file, found %d entries", len(entries))
	}

	dst := attachBackend(t, t.TempDir())
	if err := dst.ImportFile(ctx, file); err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	a, _ := src.Read(types.Root())
	b, _ := dst.Read(types.Root())
	if !reflect.DeepEqual(a.Export(), b.Export()) {
		t.Errorf("round trip mismatch: %v vs %v", a.Export(), b.Export())
	}
}
