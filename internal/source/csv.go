package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"allocexport/internal/model"
)

// CSVSource 从 CSV 数据文件惰性读取分配记录。
// 单遍消费，读完或出错后由调用方 Close。
type CSVSource struct {
	file    *os.File
	reader  *csv.Reader
	columns []string
	filters map[string]string
	closed  bool
}

// OpenCSV 打开数据文件并解析表头。filters 为字段等值过滤，
// 过滤在规范化之前按原始值比较。
func OpenCSV(path string, filters map[string]string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.WrapIO(fmt.Sprintf("打开数据文件 %s 失败", path), err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, model.NewValidationError("数据文件 %s 为空，缺少表头", path)
		}
		return nil, model.WrapIO(fmt.Sprintf("读取数据文件 %s 表头失败", path), err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
	}

	for field := range filters {
		if !containsColumn(columns, field) {
			f.Close()
			return nil, model.NewValidationError("过滤字段 %s 不在数据文件表头中", field)
		}
	}

	return &CSVSource{
		file:    f,
		reader:  r,
		columns: columns,
		filters: filters,
	}, nil
}

// Next 实现 model.RecordIter，跳过不满足过滤条件的行
func (s *CSVSource) Next() (model.Record, bool, error) {
	if s.closed {
		return model.Record{}, false, nil
	}

	for {
		fields, err := s.reader.Read()
		if err == io.EOF {
			return model.Record{}, false, nil
		}
		if err != nil {
			return model.Record{}, false, model.WrapIO("读取数据行失败", err)
		}

		var rec model.Record
		for i, v := range fields {
			if i >= len(s.columns) {
				break
			}
			setField(&rec, s.columns[i], v)
		}

		if s.match(rec) {
			return rec, true, nil
		}
	}
}

// Close 关闭底层文件，可重复调用
func (s *CSVSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func (s *CSVSource) match(rec model.Record) bool {
	for field, want := range s.filters {
		if rec.Value(field) != want {
			return false
		}
	}
	return true
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func setField(rec *model.Record, field, value string) {
	switch field {
	case "counter":
		rec.Counter = value
	case "national_id":
		rec.NationalID = value
	case "first_name":
		rec.FirstName = value
	case "last_name":
		rec.LastName = value
	case "gender":
		rec.Gender = value
	case "mobile":
		rec.Mobile = value
	case "reg_center":
		rec.RegCenter = value
	case "reg_status":
		rec.RegStatus = value
	case "group_code":
		rec.GroupCode = value
	case "school_code":
		rec.SchoolCode = value
	case "student_type":
		rec.StudentType = value
	case "mentor_id":
		rec.MentorID = value
	case "mentor_name":
		rec.MentorName = value
	case "mentor_mobile":
		rec.MentorMobile = value
	case "allocation_date":
		rec.AllocationDate = value
	case "year_code":
		rec.YearCode = value
	}
}
