package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"allocexport/internal/model"
	"allocexport/internal/writer"
)

func testResult() *writer.Result {
	return &writer.Result{
		TotalRows: 42,
		Files: []model.ExportedFile{
			{
				Name:     "export_001.csv",
				Path:     "/exports/export_001.csv",
				SHA256:   "abc123",
				ByteSize: 1024,
				RowCount: 42,
			},
		},
		Safety: model.ExcelSafety{
			Normalized:   true,
			DigitsFolded: true,
			FormulaGuard: true,
			BOM:          true,
			QuoteAll:     true,
		},
	}
}

func TestBuildAndWriteRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "export_manifest.json")

	generated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := Build(model.FormatCSV, testResult(), generated)
	if err := m.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.GeneratedAt.Equal(generated) {
		t.Fatalf("GeneratedAt = %v, want %v", got.GeneratedAt, generated)
	}
	if got.TotalRows != 42 {
		t.Fatalf("TotalRows = %d, want 42", got.TotalRows)
	}
	if got.Format != model.FormatCSV {
		t.Fatalf("Format = %q, want %q", got.Format, model.FormatCSV)
	}
	if len(got.Files) != 1 || got.Files[0].SHA256 != "abc123" {
		t.Fatalf("Files = %+v", got.Files)
	}
	if !got.ExcelSafety.FormulaGuard {
		t.Fatal("FormulaGuard flag lost")
	}
}

// TestManifestJSONShape 对外契约字段名固定
func TestManifestJSONShape(t *testing.T) {
	t.Parallel()

	m := Build(model.FormatXLSX, testResult(), time.Unix(0, 0))
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, key := range []string{`"generated_at"`, `"total_rows"`, `"files"`, `"format"`, `"excel_safety"`, `"sha256"`, `"byte_size"`, `"row_count"`} {
		if !bytes.Contains(data, []byte(key)) {
			t.Fatalf("manifest JSON missing key %s: %s", key, data)
		}
	}
}

// TestWriteDeterministic 相同输入的两次写出字节一致
func TestWriteDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	generated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	if err := Build(model.FormatCSV, testResult(), generated).Write(a); err != nil {
		t.Fatalf("Write a failed: %v", err)
	}
	if err := Build(model.FormatCSV, testResult(), generated).Write(b); err != nil {
		t.Fatalf("Write b failed: %v", err)
	}

	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if !bytes.Equal(da, db) {
		t.Fatal("manifest bytes are not deterministic")
	}
}
