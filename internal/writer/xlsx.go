package writer

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"allocexport/internal/metrics"
	"allocexport/internal/model"
	"allocexport/internal/normalize"
	"allocexport/internal/retry"
	"allocexport/internal/util"
)

// sheetName 工作表命名：Sheet_001、Sheet_002、……
func sheetName(part int) string {
	return fmt.Sprintf("Sheet_%03d", part)
}

// WriteXLSX 把有序行流写为单个工作簿。
// 每张工作表至多 ChunkRows 行；敏感列强制文本格式，
// 避免前导零和长数字标识被电子表格改写。
// 整个工作簿只经过流式写入器，任何时刻都不持有完整工作表。
func WriteXLSX(ctx context.Context, rows model.RowIter, profile *model.ExportProfile, pathFn PathFunc, opts Options) (*Result, error) {
	size := chunkRows(opts)
	result := &Result{
		Safety: model.ExcelSafety{
			Normalized:   true,
			DigitsFolded: true,
			FormulaGuard: true,
			QuoteAll:     false,
			TextCells:    true,
		},
	}

	f := excelize.NewFile()
	defer f.Close()

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49}) // 49 = "@" 文本格式
	if err != nil {
		return nil, model.WrapIO("创建文本单元格样式失败", err)
	}

	// 每列一次性算好样式，写行时直接查表
	colStyles := make([]int, len(profile.Fields))
	for i, field := range profile.Fields {
		if profile.IsSensitive(field) {
			colStyles[i] = textStyle
		}
	}

	var sheets []model.SheetInfo
	var sw *excelize.StreamWriter
	sheetRows := 0

	openSheet := func() error {
		part := len(sheets) + 1
		name := sheetName(part)
		if part == 1 {
			f.SetSheetName("Sheet1", name)
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return model.WrapIO("创建工作表失败", err)
			}
		}
		w, err := f.NewStreamWriter(name)
		if err != nil {
			return model.WrapIO("创建流式写入器失败", err)
		}
		sw = w
		sheetRows = 0
		sheets = append(sheets, model.SheetInfo{Name: name})

		header := make([]interface{}, len(profile.Fields))
		for i, field := range profile.Fields {
			header[i] = excelize.Cell{Value: field}
		}
		cell, _ := excelize.CoordinatesToCellName(1, 1)
		if err := sw.SetRow(cell, header); err != nil {
			return model.WrapIO("写入表头失败", err)
		}
		return nil
	}

	closeSheet := func() error {
		if sw == nil {
			return nil
		}
		if err := sw.Flush(); err != nil {
			return model.WrapIO("刷新流式写入器失败", err)
		}
		sheets[len(sheets)-1].Rows = sheetRows
		sw = nil
		return nil
	}

	if err := openSheet(); err != nil {
		return nil, err
	}

	for {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		if sheetRows >= size {
			if err := closeSheet(); err != nil {
				return nil, err
			}
			if err := openSheet(); err != nil {
				return nil, err
			}
		}

		cells := make([]interface{}, len(row.Values))
		for i, v := range row.Values {
			cells[i] = excelize.Cell{StyleID: colStyles[i], Value: normalize.EnsureGuarded(v)}
		}
		cell, _ := excelize.CoordinatesToCellName(1, sheetRows+2)
		if err := sw.SetRow(cell, cells); err != nil {
			return nil, model.WrapIO("写入数据行失败", err)
		}
		sheetRows++
		result.TotalRows++
	}

	if err := closeSheet(); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	path := pathFn(1)
	err = retry.Do(ctx, "xlsx_finalize", opts.Retry, func() error {
		n, werr := util.WriteAtomic(path, func(w io.Writer) error {
			_, err := f.WriteTo(w)
			return err
		})
		if werr != nil {
			return model.WrapIO("写入工作簿失败", werr)
		}
		metrics.BytesWritten.WithLabelValues(model.FormatXLSX).Add(float64(n))
		return nil
	})
	if err != nil {
		return nil, err
	}

	file, err := describeFile(path, result.TotalRows, sheets)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, file)
	return result, nil
}
