// Package sorter 有界内存外部排序：内存缓冲 + 磁盘分块 + 流式 k 路归并
package sorter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"allocexport/internal/metrics"
	"allocexport/internal/model"
	"allocexport/internal/normalize"
	"allocexport/internal/retry"
	"allocexport/internal/util"
)

// DefaultBufferRows 默认内存缓冲行数
const DefaultBufferRows = 20000

// 排序键各分量之间的分隔符，取不会出现在规范化值里的控制位
const keySeparator = "\x1f"

// Sorter 外部排序器。单个实例可服务多个任务，Prepare 返回的
// Plan 归一次调用独占。
type Sorter struct {
	profile    *model.ExportProfile
	workRoot   string
	bufferRows int
	retryOpts  retry.Options
}

// Config 排序器配置
type Config struct {
	// WorkRoot 任务级临时工作区的根目录
	WorkRoot string
	// BufferRows 内存缓冲阈值，<=0 取 DefaultBufferRows
	BufferRows int
	// Retry 分块落盘的重试参数
	Retry retry.Options
}

// New 创建外部排序器
func New(profile *model.ExportProfile, cfg Config) *Sorter {
	rows := cfg.BufferRows
	if rows <= 0 {
		rows = DefaultBufferRows
	}
	return &Sorter{
		profile:    profile,
		workRoot:   cfg.WorkRoot,
		bufferRows: rows,
		retryOpts:  cfg.Retry,
	}
}

// keyedRow 落盘与归并的内部行表示，键随行存储避免重算
type keyedRow struct {
	Key    string   `json:"k"`
	Values []string `json:"v"`
}

// Plan 一次排序调用的产物：磁盘分块路径 + 内存余量 + 计数。
// 由 Cleanup 销毁，可重复调用。
type Plan struct {
	// TotalRows 消费的总行数
	TotalRows int
	// ChunkCount 落盘分块数
	ChunkCount int
	// SpilledBytes 落盘字节数
	SpilledBytes int64

	dir       string
	chunks    []string
	remainder []keyedRow
	label     string
	cleaned   bool
}

// KeyFor 为一行渲染排序键。数字语义字段按档案宽度定宽补零，
// 其余字段用规范化后的原文。相同取值必然得到字节相同的键。
func KeyFor(row model.NormalizedRow, profile *model.ExportProfile) string {
	parts := make([]string, 0, len(profile.SortBy))
	for _, field := range profile.SortBy {
		v := row.Get(profile, field)
		if width, ok := profile.KeyWidths[field]; ok {
			v = normalize.PadNumeric(v, width)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, keySeparator)
}

// Prepare 单遍消费行流。缓冲满即排序落盘为一个分块；
// 输入耗尽后剩余行就地排序留在内存（只有内存数据时绝不落盘）。
func (s *Sorter) Prepare(ctx context.Context, jobID string, rows model.RowIter, label string) (*Plan, error) {
	dir := filepath.Join(s.workRoot, "export_"+jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, model.WrapIO("创建排序工作区失败", err)
	}

	plan := &Plan{dir: dir, label: label}
	buf := make([]keyedRow, 0, s.bufferRows)

	for {
		row, ok, err := rows.Next()
		if err != nil {
			plan.Cleanup()
			return nil, err
		}
		if !ok {
			break
		}
		buf = append(buf, keyedRow{Key: KeyFor(row, s.profile), Values: row.Values})
		plan.TotalRows++

		if len(buf) >= s.bufferRows {
			if err := s.spill(ctx, plan, buf); err != nil {
				plan.Cleanup()
				return nil, err
			}
			buf = buf[:0]
		}
	}

	sortKeyed(buf)
	plan.remainder = buf
	return plan, nil
}

// spill 把已满的缓冲排序后写为一个磁盘分块，写入走重试执行器
func (s *Sorter) spill(ctx context.Context, plan *Plan, buf []keyedRow) error {
	sortKeyed(buf)

	path := filepath.Join(plan.dir, fmt.Sprintf("chunk_%05d.jsonl", plan.ChunkCount))
	opts := s.retryOpts
	if opts.Seed == "" {
		opts.Seed = plan.dir
	}

	var written int64
	err := retry.Do(ctx, "sort_spill", opts, func() error {
		n, err := util.WriteAtomic(path, func(w io.Writer) error {
			bw := bufio.NewWriter(w)
			enc := json.NewEncoder(bw)
			for i := range buf {
				if err := enc.Encode(&buf[i]); err != nil {
					return fmt.Errorf("编码分块行失败: %w", err)
				}
			}
			return bw.Flush()
		})
		if err != nil {
			return model.WrapIO("写入排序分块失败", err)
		}
		written = n
		return nil
	})
	if err != nil {
		return err
	}

	plan.chunks = append(plan.chunks, path)
	plan.ChunkCount++
	plan.SpilledBytes += written
	metrics.SpillChunks.Inc()
	metrics.SpillBytes.Add(float64(written))
	return nil
}

// sortKeyed 按键稳定排序，保证同键行维持到达顺序
func sortKeyed(rows []keyedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Key < rows[j].Key
	})
}

// Cleanup 删除所有分块与工作区目录。可重复调用，忽略文件缺失。
func (p *Plan) Cleanup() {
	if p == nil || p.cleaned {
		return
	}
	for _, c := range p.chunks {
		_ = os.Remove(c)
	}
	if p.dir != "" {
		_ = os.RemoveAll(p.dir)
	}
	p.cleaned = true
}
