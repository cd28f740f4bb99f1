// Package manifest 导出任务清单：产物列表、逐文件摘要、安全标志
package manifest

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"allocexport/internal/model"
	"allocexport/internal/util"
	"allocexport/internal/writer"
)

// Manifest 一次导出的完整描述，每个任务恰好一份
type Manifest struct {
	GeneratedAt time.Time            `json:"generated_at"`
	TotalRows   int                  `json:"total_rows"`
	Files       []model.ExportedFile `json:"files"`
	Format      string               `json:"format"`
	ExcelSafety model.ExcelSafety    `json:"excel_safety"`
}

// Build 从写入结果构造清单
func Build(format string, result *writer.Result, generatedAt time.Time) *Manifest {
	return &Manifest{
		GeneratedAt: generatedAt.UTC(),
		TotalRows:   result.TotalRows,
		Files:       result.Files,
		Format:      format,
		ExcelSafety: result.Safety,
	}
}

// Write 按与数据文件相同的原子落盘口径写出清单 JSON。
// 这里失败不影响已写好的数据文件，但任务必须以该错误进入 FAILED。
func (m *Manifest) Write(path string) error {
	_, err := util.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
	if err != nil {
		return model.WrapIO("写入导出清单失败", err)
	}
	return nil
}

// Load 读回清单（校验与测试用）
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapIO("读取导出清单失败", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, model.WrapIO("解析导出清单失败", err)
	}
	return &m, nil
}
