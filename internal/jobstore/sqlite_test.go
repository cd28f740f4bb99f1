package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"allocexport/internal/model"
)

func TestSQLiteLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	j, err := s.Begin(ctx, "job-1", model.FormatXLSX, map[string]string{"year_code": "1402"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if j.Status != model.JobPending {
		t.Fatalf("status = %s, want PENDING", j.Status)
	}

	if _, err := s.Complete(ctx, "job-1", testComplete()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	loaded, found, err := s.Load(ctx, "job-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if loaded.Status != model.JobSuccess {
		t.Fatalf("status = %s, want SUCCESS", loaded.Status)
	}
	if loaded.Filters["year_code"] != "1402" {
		t.Fatalf("filters lost: %+v", loaded.Filters)
	}
	if len(loaded.Files) != 1 || loaded.Files[0].SHA256 != "deadbeef" {
		t.Fatalf("files = %+v", loaded.Files)
	}

	// 终态受保护
	if _, err := s.Fail(ctx, "job-1", model.JobError{Code: model.CodeIO, Message: "late"}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail after SUCCESS: err = %v, want ErrTerminal", err)
	}
}

func TestSQLiteLoadAbsent(t *testing.T) {
	t.Parallel()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	_, found, err := s.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Fatal("found = true for missing job")
	}
}
