package model

import "time"

// 导出格式
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// JobStatus 导出任务状态
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// Terminal 判断状态是否为终态
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// SheetInfo 电子表格单个工作表的行数统计
type SheetInfo struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// ExportedFile 最终产物描述。文件落盘并改名到位后构造，之后不可变。
type ExportedFile struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	SHA256   string      `json:"sha256"`
	ByteSize int64       `json:"byte_size"`
	RowCount int         `json:"row_count"`
	Sheets   []SheetInfo `json:"sheets,omitempty"`
}

// ExcelSafety 导出时实际生效的 Excel 安全措施
type ExcelSafety struct {
	Normalized   bool `json:"normalized"`
	DigitsFolded bool `json:"digits_folded"`
	FormulaGuard bool `json:"formula_guard"`
	BOM          bool `json:"bom"`
	QuoteAll     bool `json:"quote_all"`
	TextCells    bool `json:"text_cells"`
}

// JobError 任务失败的结构化错误，API 层原样透出
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExportJob 导出任务记录
//
// 生命周期：Begin 创建 PENDING，Complete/Fail 各迁移一次到终态，
// 终态之后任何写入都被拒绝。除这三个操作外不得修改。
type ExportJob struct {
	ID           string            `json:"id"`
	Status       JobStatus         `json:"status"`
	Format       string            `json:"format"`
	Filters      map[string]string `json:"filters,omitempty"`
	Files        []ExportedFile    `json:"files,omitempty"`
	ArtifactDir  string            `json:"artifact_dir,omitempty"`
	ManifestPath string            `json:"manifest_path,omitempty"`
	ExcelSafety  *ExcelSafety      `json:"excel_safety,omitempty"`
	Error        *JobError         `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TotalRows 所有产物文件的行数合计
func (j *ExportJob) TotalRows() int {
	total := 0
	for _, f := range j.Files {
		total += f.RowCount
	}
	return total
}
