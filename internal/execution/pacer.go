package execution

import (
	"context"
	"time"
)

// DefaultSliceInterval 为相邻子单之间的默认间隔。
const DefaultSliceInterval = 200 * time.Millisecond

// Pacer 控制相邻两笔子单之间的节奏。只在子单之间调用，首笔之前与末笔之后不调用。
type Pacer interface {
	Pause(ctx context.Context) error
}

// FixedInterval 每次暂停固定时长。
type FixedInterval time.Duration

// Pause 等待固定时长或 ctx 结束。
func (f FixedInterval) Pause(ctx context.Context) error {
	d := time.Duration(f)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay 不暂停，用于测试。
type NoDelay struct{}

// Pause 立即返回。
func (NoDelay) Pause(ctx context.Context) error {
	return ctx.Err()
}
