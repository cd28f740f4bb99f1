// Package pipeline 导出任务执行器：规范化 → 外部排序 → 写产物 → 清单 → 存储迁移
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"allocexport/internal/jobstore"
	"allocexport/internal/manifest"
	"allocexport/internal/metrics"
	"allocexport/internal/model"
	"allocexport/internal/normalize"
	"allocexport/internal/retry"
	"allocexport/internal/sorter"
	"allocexport/internal/writer"
)

// ManifestName 清单文件名，固定在产物目录内
const ManifestName = "export_manifest.json"

// ProgressEvent 任务进度事件（供 SSE 推送）
type ProgressEvent struct {
	Percent int
	Stage   string
}

func reportProgress(progress func(ProgressEvent), percent int, stage string) {
	if progress == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	progress(ProgressEvent{Percent: percent, Stage: stage})
}

// Config 执行器配置
type Config struct {
	// WorkDir 排序落盘工作区根目录
	WorkDir string
	// ExportDir 产物根目录，每个任务一个子目录
	ExportDir string
	// BufferRows 排序缓冲行数，<=0 取 sorter.DefaultBufferRows
	BufferRows int
	// ChunkRows 产物分块行数，<=0 取 writer.DefaultChunkRows
	ChunkRows int
	// BOM CSV 是否带 UTF-8 BOM
	BOM bool
	// Retry I/O 重试参数，Seed 为空时由任务 id 派生
	Retry retry.Options
}

// Runner 单个导出任务的执行器
type Runner struct {
	profile *model.ExportProfile
	store   jobstore.Store
	cfg     Config
}

// NewRunner 创建执行器
func NewRunner(profile *model.ExportProfile, store jobstore.Store, cfg Config) *Runner {
	if profile == nil {
		profile = model.DefaultProfile()
	}
	return &Runner{profile: profile, store: store, cfg: cfg}
}

// Run 执行一个已 Begin 的任务直到终态。
// 任何错误都翻译为 Fail{code,message} 写回存储；工作区在所有退出路径上清理。
func (r *Runner) Run(ctx context.Context, id, format string, records model.RecordIter, progress func(ProgressEvent)) (*model.ExportJob, error) {
	start := time.Now()

	job, err := r.run(ctx, id, format, records, progress)
	if err != nil {
		metrics.JobsTotal.WithLabelValues(format, "failed").Inc()
		if _, ferr := r.store.Fail(ctx, id, model.ToJobError(err)); ferr != nil {
			return nil, fmt.Errorf("记录任务失败状态时出错: %v (原始错误: %w)", ferr, err)
		}
		reportProgress(progress, 100, "失败: "+err.Error())
		return nil, err
	}

	metrics.JobsTotal.WithLabelValues(format, "success").Inc()
	metrics.RowsProcessed.WithLabelValues(format).Add(float64(job.TotalRows()))
	metrics.JobDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	reportProgress(progress, 100, "完成")
	return job, nil
}

func (r *Runner) run(ctx context.Context, id, format string, records model.RecordIter, progress func(ProgressEvent)) (*model.ExportJob, error) {
	if format != model.FormatCSV && format != model.FormatXLSX {
		return nil, model.NewValidationError("不支持的导出格式: %s", format)
	}

	retryOpts := r.cfg.Retry
	if retryOpts.Attempts <= 0 {
		retryOpts = retry.DefaultOptions(id)
	} else if retryOpts.Seed == "" {
		// 抖动种子取任务 id，同一任务的延迟序列可复现
		retryOpts.Seed = id
	}

	reportProgress(progress, 5, "规范化")
	norm := normalize.New(r.profile)
	rows := norm.Rows(records)

	reportProgress(progress, 15, "排序")
	srt := sorter.New(r.profile, sorter.Config{
		WorkRoot:   r.cfg.WorkDir,
		BufferRows: r.cfg.BufferRows,
		Retry:      retryOpts,
	})
	plan, err := srt.Prepare(ctx, id, rows, format)
	if err != nil {
		return nil, err
	}
	defer plan.Cleanup()

	stream, err := plan.Rows()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	reportProgress(progress, 40, "写入产物")
	artifactDir := filepath.Join(r.cfg.ExportDir, "export_"+id)
	opts := writer.Options{
		ChunkRows: r.cfg.ChunkRows,
		BOM:       r.cfg.BOM,
		Retry:     retryOpts,
	}

	var result *writer.Result
	switch format {
	case model.FormatCSV:
		pathFn := func(part int) string {
			return filepath.Join(artifactDir, fmt.Sprintf("export_%03d.csv", part))
		}
		result, err = writer.WriteCSV(ctx, stream, r.profile, pathFn, opts)
	case model.FormatXLSX:
		pathFn := func(part int) string {
			return filepath.Join(artifactDir, "export.xlsx")
		}
		result, err = writer.WriteXLSX(ctx, stream, r.profile, pathFn, opts)
	}
	if err != nil {
		return nil, err
	}

	reportProgress(progress, 85, "写入清单")
	manifestPath := filepath.Join(artifactDir, ManifestName)
	m := manifest.Build(format, result, time.Now())
	if err := m.Write(manifestPath); err != nil {
		// 清单失败即任务失败，已写好的数据文件保留原样
		return nil, err
	}

	reportProgress(progress, 95, "记录结果")
	job, err := r.store.Complete(ctx, id, jobstore.CompleteParams{
		ArtifactDir:  artifactDir,
		ManifestPath: manifestPath,
		Files:        result.Files,
		Safety:       result.Safety,
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
