// Package writer 导出产物写入：分块 CSV 与流式 XLSX，全部原子落盘
package writer

import (
	"path/filepath"

	"allocexport/internal/model"
	"allocexport/internal/retry"
	"allocexport/internal/util"
)

// DefaultChunkRows 默认单文件/单工作表行数
const DefaultChunkRows = 50000

// PathFunc 产物路径工厂，part 从 1 起
type PathFunc func(part int) string

// Options 写入选项
type Options struct {
	// ChunkRows 单个分块文件（或工作表）的行数，<=0 取 DefaultChunkRows
	ChunkRows int
	// BOM CSV 文件是否带 UTF-8 BOM
	BOM bool
	// Retry 文件定稿的重试参数
	Retry retry.Options
}

// Result 一次写入的聚合结果
type Result struct {
	Files     []model.ExportedFile
	TotalRows int
	Safety    model.ExcelSafety
}

func chunkRows(opts Options) int {
	if opts.ChunkRows <= 0 {
		return DefaultChunkRows
	}
	return opts.ChunkRows
}

// describeFile 定稿后补齐摘要与大小，构造不可变的产物描述
func describeFile(path string, rowCount int, sheets []model.SheetInfo) (model.ExportedFile, error) {
	digest, size, err := util.FileSHA256(path)
	if err != nil {
		return model.ExportedFile{}, model.WrapIO("计算产物摘要失败", err)
	}
	return model.ExportedFile{
		Name:     filepath.Base(path),
		Path:     path,
		SHA256:   digest,
		ByteSize: size,
		RowCount: rowCount,
		Sheets:   sheets,
	}, nil
}
