package model

// NormalizedRow 规范化后的导出行，Values 与档案的 Fields 一一对齐。
// 创建后不可变：排序、落盘、重读走的都是同一份值。
type NormalizedRow struct {
	Values []string
}

// Get 按档案字段名取值
func (r NormalizedRow) Get(p *ExportProfile, field string) string {
	i := p.FieldIndex(field)
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// RowIter 规范化行迭代器。ok=false 表示流结束。
type RowIter interface {
	Next() (row NormalizedRow, ok bool, err error)
}

// SliceRows 把内存切片包装为 RowIter（测试与小任务用）
func SliceRows(rows []NormalizedRow) RowIter {
	return &sliceRowIter{rows: rows}
}

type sliceRowIter struct {
	rows []NormalizedRow
	i    int
}

func (it *sliceRowIter) Next() (NormalizedRow, bool, error) {
	if it.i >= len(it.rows) {
		return NormalizedRow{}, false, nil
	}
	row := it.rows[it.i]
	it.i++
	return row, true, nil
}
