package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"allocexport/internal/model"
)

func writeDataFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allocations.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试数据失败: %v", err)
	}
	return path
}

func drain(t *testing.T, s *CSVSource) []model.Record {
	t.Helper()
	var out []model.Record
	for {
		rec, ok, err := s.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func TestOpenCSVReadsRecords(t *testing.T) {
	t.Parallel()

	path := writeDataFile(t, "national_id,first_name,year_code\r\n0012345678,Ali,1402\r\n0099887766,Sara,1403\r\n")

	s, err := OpenCSV(path, nil)
	if err != nil {
		t.Fatalf("OpenCSV failed: %v", err)
	}
	defer s.Close()

	recs := drain(t, s)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].NationalID != "0012345678" || recs[0].FirstName != "Ali" {
		t.Fatalf("first record = %+v", recs[0])
	}
	if recs[1].YearCode != "1403" {
		t.Fatalf("second record = %+v", recs[1])
	}
}

func TestOpenCSVFilters(t *testing.T) {
	t.Parallel()

	path := writeDataFile(t, "national_id,year_code\n1,1402\n2,1403\n3,1402\n")

	s, err := OpenCSV(path, map[string]string{"year_code": "1402"})
	if err != nil {
		t.Fatalf("OpenCSV failed: %v", err)
	}
	defer s.Close()

	recs := drain(t, s)
	if len(recs) != 2 {
		t.Fatalf("filtered records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.YearCode != "1402" {
			t.Fatalf("filter leaked record %+v", r)
		}
	}
}

// 表头大小写与 BOM 均被容忍
func TestOpenCSVHeaderNormalization(t *testing.T) {
	t.Parallel()

	path := writeDataFile(t, "\uFEFFNational_ID, Year_Code\nX,1402\n")

	s, err := OpenCSV(path, nil)
	if err != nil {
		t.Fatalf("OpenCSV failed: %v", err)
	}
	defer s.Close()

	recs := drain(t, s)
	if len(recs) != 1 || recs[0].NationalID != "X" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestOpenCSVUnknownFilterField(t *testing.T) {
	t.Parallel()

	path := writeDataFile(t, "national_id\n1\n")

	_, err := OpenCSV(path, map[string]string{"nope": "x"})
	var perr *model.PipelineError
	if !errors.As(err, &perr) || perr.Kind != model.KindValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestOpenCSVEmptyFile(t *testing.T) {
	t.Parallel()

	path := writeDataFile(t, "")

	_, err := OpenCSV(path, nil)
	var perr *model.PipelineError
	if !errors.As(err, &perr) || perr.Kind != model.KindValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}
