package execution

import (
	"context"

	"order-relay/internal/broker"
)

// Trader 抽象委托执行，方便在 HTTP 层替换为测试实现。
type Trader interface {
	Execute(ctx context.Context, placer broker.OrderPlacer, req OrderRequest) (Outcome, error)
}

var _ Trader = (*Slicer)(nil)
