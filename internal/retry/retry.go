// Package retry 确定性有界退避的重试执行器
//
// 抖动来自 (seed, attempt) 的哈希，不引入随机源，
// 同样的种子永远得到同样的延迟序列，测试可以断言到具体值。
package retry

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"allocexport/internal/metrics"
	"allocexport/internal/model"
)

// Options 重试参数
type Options struct {
	// Attempts 总尝试次数（含首次），最小 1
	Attempts int
	// BaseDelay 首次失败后的基础延迟
	BaseDelay time.Duration
	// Multiplier 指数退避倍率，<=0 时取 2
	Multiplier float64
	// MaxDelay 单次延迟上限，0 表示不设限
	MaxDelay time.Duration
	// Seed 抖动种子（通常取任务 id）
	Seed string
}

// DefaultOptions 管道磁盘操作的默认重试参数
func DefaultOptions(seed string) Options {
	return Options{
		Attempts:   3,
		BaseDelay:  50 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   2 * time.Second,
		Seed:       seed,
	}
}

// Delay 计算第 attempt 次失败后的延迟（attempt 从 1 起）。
// base * multiplier^(attempt-1) 再叠加哈希抖动，结果完全可复现。
func Delay(opts Options, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := opts.Multiplier
	if mult <= 0 {
		mult = 2
	}

	d := float64(opts.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	delay := time.Duration(d)

	delay += Jitter(opts.Seed, attempt, opts.BaseDelay)

	if opts.MaxDelay > 0 && delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}

// Jitter 由 (seed, attempt) 派生的确定性抖动，范围 [0, base/2)
func Jitter(seed string, attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(seed))
	h.Write([]byte{byte(attempt), byte(attempt >> 8), byte(attempt >> 16), byte(attempt >> 24)})
	span := int64(base) / 2
	if span <= 0 {
		return 0
	}
	return time.Duration(int64(h.Sum64() % uint64(span)))
}

// Do 执行 fn，仅对 I/O 类错误按确定性退避重试。
// 预算耗尽时返回包含最后一次错误的耗尽错误，并单独计数。
func Do(ctx context.Context, reason string, opts Options, fn func() error) error {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		metrics.RetryAttempts.WithLabelValues(reason).Inc()

		err := fn()
		if err == nil {
			return nil
		}
		if !model.IsRetryable(err) {
			return err
		}
		last = err

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			// 取消既非校验失败也非瞬时 I/O 故障，不参与重试分类
			return fmt.Errorf("%s 等待重试时被取消: %w", reason, ctx.Err())
		case <-time.After(Delay(opts, attempt)):
		}
	}

	metrics.RetryExhausted.WithLabelValues(reason).Inc()
	return model.Exhaust(reason, attempts, last)
}
