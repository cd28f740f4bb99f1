// Package jobstore 导出任务生命周期存储
//
// 状态机：PENDING → SUCCESS 或 PENDING → FAILED，进入终态后拒绝任何写入。
// 三种可互换后端：进程内 map、Redis、SQLite，核心逻辑只依赖 Store 接口。
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"allocexport/internal/model"
)

// ErrTerminal 对终态记录的非法写入
var ErrTerminal = model.NewValidationError("任务已进入终态，拒绝修改")

// CompleteParams 任务成功时写入的结果元数据
type CompleteParams struct {
	ArtifactDir  string
	ManifestPath string
	Files        []model.ExportedFile
	Safety       model.ExcelSafety
}

// Store 任务存储接口。HTTP 层只通过它观察任务，从不直接触碰管道。
type Store interface {
	// Begin 创建 PENDING 记录；对同一 id 重复调用是幂等的：
	// 覆盖 PENDING 元数据，但绝不覆盖终态。
	Begin(ctx context.Context, id, format string, filters map[string]string) (*model.ExportJob, error)
	// Complete 迁移到 SUCCESS 并存入全部结果元数据
	Complete(ctx context.Context, id string, params CompleteParams) (*model.ExportJob, error)
	// Fail 迁移到 FAILED 并存入结构化错误
	Fail(ctx context.Context, id string, jerr model.JobError) (*model.ExportJob, error)
	// Load 读取记录，found=false 表示不存在
	Load(ctx context.Context, id string) (job *model.ExportJob, found bool, err error)
}

// EncodeJob 任务记录的确定性序列化。结构体字段顺序固定，
// map 键由 encoding/json 排序输出，状态不变则字节不变，
// 供审计/哈希比对使用。
func EncodeJob(j *model.ExportJob) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("序列化任务记录失败: %w", err)
	}
	return data, nil
}

// DecodeJob 反序列化任务记录
func DecodeJob(data []byte) (*model.ExportJob, error) {
	var j model.ExportJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("解析任务记录失败: %w", err)
	}
	return &j, nil
}

// applyBegin 三个后端共享的迁移规则：已有终态记录时拒绝重建
func applyBegin(existing *model.ExportJob, id, format string, filters map[string]string, now time.Time) (*model.ExportJob, error) {
	if existing != nil && existing.Status.Terminal() {
		return nil, ErrTerminal
	}
	created := now
	if existing != nil {
		created = existing.CreatedAt
	}
	return &model.ExportJob{
		ID:        id,
		Status:    model.JobPending,
		Format:    format,
		Filters:   filters,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

func applyComplete(existing *model.ExportJob, params CompleteParams, now time.Time) (*model.ExportJob, error) {
	if existing == nil {
		return nil, model.NewValidationError("任务不存在，无法标记成功")
	}
	if existing.Status.Terminal() {
		return nil, ErrTerminal
	}
	j := *existing
	j.Status = model.JobSuccess
	j.Files = params.Files
	j.ArtifactDir = params.ArtifactDir
	j.ManifestPath = params.ManifestPath
	safety := params.Safety
	j.ExcelSafety = &safety
	j.Error = nil
	j.UpdatedAt = now
	return &j, nil
}

func applyFail(existing *model.ExportJob, jerr model.JobError, now time.Time) (*model.ExportJob, error) {
	if existing == nil {
		return nil, model.NewValidationError("任务不存在，无法标记失败")
	}
	if existing.Status.Terminal() {
		return nil, ErrTerminal
	}
	j := *existing
	j.Status = model.JobFailed
	j.Error = &jerr
	j.UpdatedAt = now
	return &j, nil
}
