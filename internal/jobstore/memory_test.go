package jobstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"allocexport/internal/model"
)

func testComplete() CompleteParams {
	return CompleteParams{
		ArtifactDir:  "/exports/job-1",
		ManifestPath: "/exports/job-1/export_manifest.json",
		Files: []model.ExportedFile{
			{Name: "export_001.csv", SHA256: "deadbeef", RowCount: 5, ByteSize: 100},
		},
		Safety: model.ExcelSafety{FormulaGuard: true, QuoteAll: true},
	}
}

func TestMemoryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)

	j, err := s.Begin(ctx, "job-1", model.FormatCSV, map[string]string{"year_code": "1402"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if j.Status != model.JobPending {
		t.Fatalf("status = %s, want PENDING", j.Status)
	}

	j, err = s.Complete(ctx, "job-1", testComplete())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if j.Status != model.JobSuccess {
		t.Fatalf("status = %s, want SUCCESS", j.Status)
	}
	if j.TotalRows() != 5 {
		t.Fatalf("TotalRows = %d, want 5", j.TotalRows())
	}

	loaded, found, err := s.Load(ctx, "job-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if loaded.ManifestPath != "/exports/job-1/export_manifest.json" {
		t.Fatalf("ManifestPath = %q", loaded.ManifestPath)
	}
}

// TestMemoryBeginIdempotent 重复 Begin 覆盖 PENDING 元数据但不报错
func TestMemoryBeginIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)

	if _, err := s.Begin(ctx, "job-1", model.FormatCSV, nil); err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	j, err := s.Begin(ctx, "job-1", model.FormatXLSX, nil)
	if err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if j.Format != model.FormatXLSX {
		t.Fatalf("format = %q, want xlsx (pending metadata overwritten)", j.Format)
	}
}

// TestMemoryTerminalImmutable 终态之后 Begin/Complete/Fail 全部拒绝
func TestMemoryTerminalImmutable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)

	s.Begin(ctx, "job-1", model.FormatCSV, nil)
	if _, err := s.Fail(ctx, "job-1", model.JobError{Code: model.CodeIO, Message: "disk full"}); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if _, err := s.Complete(ctx, "job-1", testComplete()); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Complete after FAILED: err = %v, want ErrTerminal", err)
	}
	if _, err := s.Fail(ctx, "job-1", model.JobError{Code: model.CodeIO, Message: "again"}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail after FAILED: err = %v, want ErrTerminal", err)
	}
	if _, err := s.Begin(ctx, "job-1", model.FormatCSV, nil); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Begin after FAILED: err = %v, want ErrTerminal", err)
	}

	// 错误细节保持不变
	j, _, _ := s.Load(ctx, "job-1")
	if j.Error == nil || j.Error.Message != "disk full" {
		t.Fatalf("error detail = %+v, want disk full", j.Error)
	}
}

func TestMemoryLoadAbsent(t *testing.T) {
	t.Parallel()

	_, found, err := NewMemoryStore(0).Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Fatal("found = true for missing job")
	}
}

func TestMemoryTTLPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Begin(ctx, "job-1", model.FormatCSV, nil)
	s.Fail(ctx, "job-1", model.JobError{Code: model.CodeIO, Message: "x"})
	s.Begin(ctx, "job-2", model.FormatCSV, nil)

	// TTL 之后终态记录清除，PENDING 保留
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	if _, found, _ := s.Load(ctx, "job-1"); found {
		t.Fatal("terminal job should be purged after TTL")
	}
	if _, found, _ := s.Load(ctx, "job-2"); !found {
		t.Fatal("pending job must never be purged")
	}
}

// TestEncodeJobDeterministic 状态不变时序列化字节必须一致
func TestEncodeJobDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(0)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Begin(ctx, "job-1", model.FormatCSV, map[string]string{
		"year_code":  "1402",
		"reg_center": "007",
	})
	j, _, _ := s.Load(ctx, "job-1")

	a, err := EncodeJob(j)
	if err != nil {
		t.Fatalf("EncodeJob failed: %v", err)
	}
	b, err := EncodeJob(j)
	if err != nil {
		t.Fatalf("EncodeJob failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encoding not deterministic:\n%s\n%s", a, b)
	}

	decoded, err := DecodeJob(a)
	if err != nil {
		t.Fatalf("DecodeJob failed: %v", err)
	}
	if decoded.Filters["reg_center"] != "007" {
		t.Fatalf("filters lost: %+v", decoded.Filters)
	}
}
