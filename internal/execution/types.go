package execution

import (
	"errors"
	"fmt"

	"order-relay/internal/broker"
)

const (
	// SideBuy 为买入方向的券商代码。
	SideBuy = "B"
	// SideSell 为卖出方向的券商代码。
	SideSell = "S"

	// OrderTypeMarket 为市价单。
	OrderTypeMarket = "MKT"
	// OrderTypeLimit 为限价单。
	OrderTypeLimit = "L"

	// MarketPrice 为价格缺省时的占位值，市价单忽略价格。
	MarketPrice = "0"

	// DefaultMaxChildren 为单次请求允许的默认最大子单数。
	DefaultMaxChildren int64 = 500
)

// ErrInvalidOrder 表示请求在提交前即被拒绝。
var ErrInvalidOrder = errors.New("execution: invalid order")

// OrderRequest 为前端提交的原始委托，尚未归一化。
type OrderRequest struct {
	Segment   string
	Product   string
	Price     string
	Market    bool
	Symbol    string
	Side      string
	Validity  string
	TotalQty  int64
	SliceSize int64
}

// Defaults 在请求缺省字段时补齐。
type Defaults struct {
	Segment  string
	Product  string
	Validity string

	// MaxChildren 限制单次请求的子单数，<=0 时取 DefaultMaxChildren。
	MaxChildren int64
}

// ChildResult 为一笔子单的提交结果，Ack 原样透传券商回执。
type ChildResult struct {
	Seq      int
	Quantity int64
	Ack      broker.Ack
}

// Outcome 为一次拆单执行的汇总。Err 非空时 Children 为失败前已提交的子单。
type Outcome struct {
	BatchID  string
	Params   broker.OrderParams
	Children []ChildResult
	Sliced   bool
	Err      error
}

// Acks 按提交顺序返回所有子单回执。
func (o Outcome) Acks() []broker.Ack {
	acks := make([]broker.Ack, 0, len(o.Children))
	for _, c := range o.Children {
		acks = append(acks, c.Ack)
	}
	return acks
}

// SubmittedQty 返回已提交子单的数量之和。
func (o Outcome) SubmittedQty() int64 {
	var sum int64
	for _, c := range o.Children {
		sum += c.Quantity
	}
	return sum
}

// SliceError 描述序列中途中止：第 Seq 笔子单调用失败，之后的子单未提交，已提交部分不回滚。
type SliceError struct {
	Seq          int
	Submitted    int
	RemainingQty int64
	Err          error
}

func (e *SliceError) Error() string {
	if e.Submitted == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("child order %d failed after %d submitted, %d qty not sent: %v",
		e.Seq, e.Submitted, e.RemainingQty, e.Err)
}

func (e *SliceError) Unwrap() error {
	return e.Err
}

// Partial 表示已有子单提交成功。
func (e *SliceError) Partial() bool {
	return e.Submitted > 0
}
