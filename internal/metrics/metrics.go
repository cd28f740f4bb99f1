// Package metrics 导出管道的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal 按格式与结果统计的任务数
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocexport_jobs_total",
			Help: "Export jobs finished, by format and status",
		},
		[]string{"format", "status"},
	)

	// RowsProcessed 处理过的行数
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocexport_rows_processed_total",
			Help: "Rows passed through the export pipeline, by format",
		},
		[]string{"format"},
	)

	// BytesWritten 产物文件写入的字节数
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocexport_bytes_written_total",
			Help: "Bytes written to finalized artifact files, by format",
		},
		[]string{"format"},
	)

	// SpillChunks 外部排序落盘的分块数
	SpillChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocexport_spill_chunks_total",
			Help: "Sorted chunks spilled to disk by the external sorter",
		},
	)

	// SpillBytes 外部排序落盘的字节数
	SpillBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocexport_spill_bytes_total",
			Help: "Bytes spilled to disk by the external sorter",
		},
	)

	// MergePasses 执行过的 k 路归并次数
	MergePasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocexport_merge_passes_total",
			Help: "Streaming k-way merges performed",
		},
	)

	// RetryAttempts 按原因统计的重试尝试次数
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocexport_retry_attempts_total",
			Help: "Retry executor attempts, by caller-supplied reason",
		},
		[]string{"reason"},
	)

	// RetryExhausted 按原因统计的重试耗尽次数
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocexport_retry_exhausted_total",
			Help: "Retry budgets exhausted, by caller-supplied reason",
		},
		[]string{"reason"},
	)

	// JobDuration 任务耗时分布
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocexport_job_duration_seconds",
			Help:    "Duration of export jobs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"format"},
	)
)
