package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"allocexport/internal/jobstore"
	"allocexport/internal/manifest"
	"allocexport/internal/model"
)

type sliceRecords struct {
	recs []model.Record
	pos  int
}

func (s *sliceRecords) Next() (model.Record, bool, error) {
	if s.pos >= len(s.recs) {
		return model.Record{}, false, nil
	}
	rec := s.recs[s.pos]
	s.pos++
	return rec, true, nil
}

func sampleRecords() []model.Record {
	return []model.Record{
		{Counter: "3", NationalID: "0012345678", FirstName: "Ali", LastName: "Rezaei", Mobile: "09123456789", RegCenter: "7", GroupCode: "42", SchoolCode: "7", YearCode: "1402"},
		{Counter: "1", NationalID: "0099887766", FirstName: "Sara", LastName: "Karimi", Mobile: "09351112233", RegCenter: "12", GroupCode: "7", SchoolCode: "300", YearCode: "1402"},
		{Counter: "2", NationalID: "0055443322", FirstName: "Reza", LastName: "Moradi", Mobile: "09120001122", RegCenter: "7", GroupCode: "42", SchoolCode: "2", YearCode: "1401"},
	}
}

func newTestRunner(t *testing.T, store jobstore.Store, bufferRows int) (*Runner, Config) {
	t.Helper()
	cfg := Config{
		WorkDir:    filepath.Join(t.TempDir(), "work"),
		ExportDir:  filepath.Join(t.TempDir(), "exports"),
		BufferRows: bufferRows,
		ChunkRows:  100,
	}
	return NewRunner(model.DefaultProfile(), store, cfg), cfg
}

func TestRunnerCSVSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobstore.NewMemoryStore(0)
	runner, cfg := newTestRunner(t, store, 2) // 缓冲 2 行强制落盘

	if _, err := store.Begin(ctx, "job-1", model.FormatCSV, nil); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var stages []string
	job, err := runner.Run(ctx, "job-1", model.FormatCSV, &sliceRecords{recs: sampleRecords()}, func(ev ProgressEvent) {
		stages = append(stages, ev.Stage)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != model.JobSuccess {
		t.Fatalf("status = %s, want SUCCESS", job.Status)
	}
	if job.TotalRows() != 3 {
		t.Fatalf("TotalRows = %d, want 3", job.TotalRows())
	}
	if len(stages) == 0 || stages[len(stages)-1] != "完成" {
		t.Fatalf("progress stages = %v", stages)
	}

	// 清单可读且与任务记录一致
	m, err := manifest.Load(job.ManifestPath)
	if err != nil {
		t.Fatalf("读取清单失败: %v", err)
	}
	if m.TotalRows != 3 || m.Format != model.FormatCSV {
		t.Fatalf("manifest = %+v", m)
	}
	for _, f := range job.Files {
		if _, err := os.Stat(f.Path); err != nil {
			t.Fatalf("产物文件缺失 %s: %v", f.Path, err)
		}
	}

	// 排序工作区已清理
	if _, err := os.Stat(filepath.Join(cfg.WorkDir, "export_job-1")); !os.IsNotExist(err) {
		t.Fatalf("排序工作区未清理: %v", err)
	}

	// 产物按排序键有序：school_code 2 < 7 的记录先出现
	data, err := os.ReadFile(job.Files[0].Path)
	if err != nil {
		t.Fatalf("读取产物失败: %v", err)
	}
	body := string(data)
	if strings.Index(body, "1401") > strings.Index(body, "0012345678") {
		t.Fatalf("排序顺序错误:\n%s", body)
	}
}

func TestRunnerXLSXSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobstore.NewMemoryStore(0)
	runner, _ := newTestRunner(t, store, 0)

	store.Begin(ctx, "job-1", model.FormatXLSX, nil)
	job, err := runner.Run(ctx, "job-1", model.FormatXLSX, &sliceRecords{recs: sampleRecords()}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != model.JobSuccess {
		t.Fatalf("status = %s, want SUCCESS", job.Status)
	}
	if len(job.Files) != 1 || !strings.HasSuffix(job.Files[0].Name, ".xlsx") {
		t.Fatalf("files = %+v", job.Files)
	}
	if job.ExcelSafety == nil || !job.ExcelSafety.TextCells {
		t.Fatalf("ExcelSafety = %+v", job.ExcelSafety)
	}
}

func TestRunnerUnknownFormat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobstore.NewMemoryStore(0)
	runner, _ := newTestRunner(t, store, 0)

	store.Begin(ctx, "job-1", "pdf", nil)
	if _, err := runner.Run(ctx, "job-1", "pdf", &sliceRecords{}, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}

	job, found, err := store.Load(ctx, "job-1")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if job.Status != model.JobFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	if job.Error == nil || job.Error.Code != model.CodeValidation {
		t.Fatalf("error = %+v, want code %s", job.Error, model.CodeValidation)
	}
}

func TestServiceStartEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataFile := filepath.Join(dir, "allocations.csv")
	content := "national_id,first_name,school_code,year_code\n0012345678,Ali,7,1402\n0099887766,Sara,300,1403\n"
	if err := os.WriteFile(dataFile, []byte(content), 0644); err != nil {
		t.Fatalf("写入数据文件失败: %v", err)
	}

	store := jobstore.NewMemoryStore(0)
	runner, _ := newTestRunner(t, store, 0)
	svc := NewService(runner, store, dataFile)

	job, err := svc.Start(context.Background(), model.FormatCSV, map[string]string{"year_code": "1402"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if job.Status != model.JobPending {
		t.Fatalf("status = %s, want PENDING", job.Status)
	}

	final := waitTerminal(t, store, job.ID)
	if final.Status != model.JobSuccess {
		t.Fatalf("status = %s, error = %+v", final.Status, final.Error)
	}
	if final.TotalRows() != 1 {
		t.Fatalf("TotalRows = %d, want 1 (过滤 year_code=1402)", final.TotalRows())
	}
}

func TestServiceMissingDataFile(t *testing.T) {
	t.Parallel()

	store := jobstore.NewMemoryStore(0)
	runner, _ := newTestRunner(t, store, 0)
	svc := NewService(runner, store, filepath.Join(t.TempDir(), "missing.csv"))

	job, err := svc.Start(context.Background(), model.FormatCSV, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	final := waitTerminal(t, store, job.ID)
	if final.Status != model.JobFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.Error == nil || final.Error.Code != model.CodeIO {
		t.Fatalf("error = %+v, want code %s", final.Error, model.CodeIO)
	}
}

func TestServiceSubscribe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataFile := filepath.Join(dir, "allocations.csv")
	if err := os.WriteFile(dataFile, []byte("national_id\n1\n"), 0644); err != nil {
		t.Fatalf("写入数据文件失败: %v", err)
	}

	store := jobstore.NewMemoryStore(0)
	runner, _ := newTestRunner(t, store, 0)
	svc := NewService(runner, store, dataFile)

	job, err := svc.Start(context.Background(), model.FormatCSV, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch, cancel := svc.Subscribe(job.ID)
	defer cancel()

	// 任务结束时通道关闭
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("进度通道未在任务结束后关闭")
		}
	}
}

func waitTerminal(t *testing.T, store jobstore.Store, id string) *model.ExportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, found, err := store.Load(context.Background(), id)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if found && job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("任务未在期限内进入终态")
	return nil
}
