package writer

import (
	"bufio"
	"context"
	"io"
	"strings"

	"allocexport/internal/metrics"
	"allocexport/internal/model"
	"allocexport/internal/normalize"
	"allocexport/internal/retry"
	"allocexport/internal/util"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV 把有序行流写为若干分块 CSV 文件。
// 全字段加引号、CRLF 行尾、可选 BOM；每个单元格再过一遍公式防护。
// 每个分块走临时文件 → fsync → 原子改名，失败由重试执行器兜底。
func WriteCSV(ctx context.Context, rows model.RowIter, profile *model.ExportProfile, pathFn PathFunc, opts Options) (*Result, error) {
	size := chunkRows(opts)
	result := &Result{
		Safety: model.ExcelSafety{
			Normalized:   true,
			DigitsFolded: true,
			FormulaGuard: true,
			BOM:          opts.BOM,
			QuoteAll:     true,
		},
	}

	part := 0
	buf := make([]model.NormalizedRow, 0, size)

	flush := func() error {
		if part > 0 && len(buf) == 0 {
			return nil
		}
		part++
		path := pathFn(part)
		rowCount := len(buf)

		err := retry.Do(ctx, "csv_finalize", opts.Retry, func() error {
			n, werr := util.WriteAtomic(path, func(w io.Writer) error {
				return writeCSVChunk(w, profile, buf, opts.BOM)
			})
			if werr != nil {
				return model.WrapIO("写入 CSV 分块失败", werr)
			}
			metrics.BytesWritten.WithLabelValues(model.FormatCSV).Add(float64(n))
			return nil
		})
		if err != nil {
			return err
		}

		file, err := describeFile(path, rowCount, nil)
		if err != nil {
			return err
		}
		result.Files = append(result.Files, file)
		buf = buf[:0]
		return nil
	}

	for {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		buf = append(buf, row)
		result.TotalRows++
		if len(buf) >= size {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	// 末尾余量；空导出也产出一个仅含表头的文件
	if err := flush(); err != nil {
		return nil, err
	}

	return result, nil
}

// writeCSVChunk 写一个分块：表头 + 数据行
func writeCSVChunk(w io.Writer, profile *model.ExportProfile, rows []model.NormalizedRow, bom bool) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	if bom {
		if _, err := bw.Write(utf8BOM); err != nil {
			return err
		}
	}
	if err := writeCSVLine(bw, profile.Fields); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writeCSVLine(bw, row.Values); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeCSVLine 全字段加引号 + CRLF。encoding/csv 只按需加引号，
// 这里的口径要求全量引号，自己拼。
func writeCSVLine(w io.Writer, cells []string) error {
	var sb strings.Builder
	for i, cell := range cells {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		// 防护在规范化阶段已做过一次，这里防御性兜底（幂等，不重复加前缀）
		sb.WriteString(strings.ReplaceAll(normalize.EnsureGuarded(cell), `"`, `""`))
		sb.WriteByte('"')
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
