package sorter

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"fmt"
	"os"

	"allocexport/internal/metrics"
	"allocexport/internal/model"
)

// Stream 全局有序的行流。用完必须 Close 释放分块文件句柄
// （Plan.Cleanup 只负责删除文件）。
type Stream struct {
	sources []*mergeSource
	h       *mergeHeap
	direct  []keyedRow // 无分块时直接走内存余量
	di      int
	err     error
}

// Rows 返回按排序键全局有序的流式迭代器。
// 无分块时直接产出内存余量；有分块时做 k 路最小堆归并：
// 每个分块一个游标加上内存余量一个游标，弹出堆顶后立刻从
// 同源拉下一行回填，工作内存只与源数量成正比。
func (p *Plan) Rows() (*Stream, error) {
	if p.cleaned {
		return nil, model.NewValidationError("排序计划已被清理")
	}
	if len(p.chunks) == 0 {
		return &Stream{direct: p.remainder}, nil
	}

	st := &Stream{}
	for _, path := range p.chunks {
		src, err := openChunkSource(path)
		if err != nil {
			st.Close()
			return nil, model.WrapIO("打开排序分块失败", err)
		}
		st.sources = append(st.sources, src)
	}
	st.sources = append(st.sources, &mergeSource{mem: p.remainder})

	h := &mergeHeap{}
	for i, src := range st.sources {
		row, ok, err := src.next()
		if err != nil {
			st.Close()
			return nil, err
		}
		if ok {
			heap.Push(h, mergeEntry{row: row, source: i})
		}
	}
	st.h = h
	metrics.MergePasses.Inc()
	return st, nil
}

// Next 实现 model.RowIter
func (st *Stream) Next() (model.NormalizedRow, bool, error) {
	if st.err != nil {
		return model.NormalizedRow{}, false, st.err
	}

	// 纯内存路径
	if st.h == nil {
		if st.di >= len(st.direct) {
			return model.NormalizedRow{}, false, nil
		}
		row := st.direct[st.di]
		st.di++
		return model.NormalizedRow{Values: row.Values}, true, nil
	}

	if st.h.Len() == 0 {
		return model.NormalizedRow{}, false, nil
	}
	top := heap.Pop(st.h).(mergeEntry)

	// 弹出后立刻从同一来源补位，保持堆中每源至多一项
	row, ok, err := st.sources[top.source].next()
	if err != nil {
		st.err = err
		return model.NormalizedRow{}, false, err
	}
	if ok {
		heap.Push(st.h, mergeEntry{row: row, source: top.source})
	}

	return model.NormalizedRow{Values: top.row.Values}, true, nil
}

// Close 关闭所有分块读取句柄，可重复调用
func (st *Stream) Close() {
	for _, src := range st.sources {
		src.close()
	}
	st.sources = nil
}

// mergeSource 归并的单个来源：磁盘分块或内存余量
type mergeSource struct {
	f   *os.File
	dec *json.Decoder
	mem []keyedRow
	mi  int
}

func openChunkSource(path string) (*mergeSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &mergeSource{f: f, dec: json.NewDecoder(bufio.NewReaderSize(f, 64*1024))}, nil
}

func (s *mergeSource) next() (keyedRow, bool, error) {
	if s.dec != nil {
		if !s.dec.More() {
			return keyedRow{}, false, nil
		}
		var row keyedRow
		if err := s.dec.Decode(&row); err != nil {
			return keyedRow{}, false, model.WrapIO(fmt.Sprintf("读取分块 %s 失败", s.f.Name()), err)
		}
		return row, true, nil
	}
	if s.mi >= len(s.mem) {
		return keyedRow{}, false, nil
	}
	row := s.mem[s.mi]
	s.mi++
	return row, true, nil
}

func (s *mergeSource) close() {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
}

// mergeEntry 堆元素：一行与其来源下标
type mergeEntry struct {
	row    keyedRow
	source int
}

// mergeHeap 最小堆，键相等时按来源下标保证确定性
type mergeHeap []mergeEntry

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if h[i].row.Key != h[j].row.Key {
		return h[i].row.Key < h[j].row.Key
	}
	return h[i].source < h[j].source
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(mergeEntry))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
