package execution

import (
	"fmt"
	"strconv"
	"strings"

	"order-relay/internal/broker"
)

// NormalizeSide 只要包含字母 B（不区分大小写）即视为买入，其余一律卖出。
func NormalizeSide(raw string) string {
	if strings.Contains(strings.ToUpper(raw), "B") {
		return SideBuy
	}
	return SideSell
}

// NormalizePrice 空白价格回落为 "0"。
func NormalizePrice(raw string) string {
	if p := strings.TrimSpace(raw); p != "" {
		return p
	}
	return MarketPrice
}

// NormalizeOrderType 市价标志优先，否则为限价。
func NormalizeOrderType(market bool) string {
	if market {
		return OrderTypeMarket
	}
	return OrderTypeLimit
}

// ChildCount 返回拆单后的子单数量，不会溢出。
// slice <= 0 或 slice >= total 时只有一笔；否则为 ceil(total/slice)。
func ChildCount(total, slice int64) int64 {
	if total <= 0 {
		return 0
	}
	if slice <= 0 || slice >= total {
		return 1
	}
	n := total / slice
	if total%slice != 0 {
		n++
	}
	return n
}

// nextSlice 返回下一笔子单数量：不拆单时为全部余量，否则为 min(remaining, slice)。
func nextSlice(total, slice, remaining int64) int64 {
	if slice <= 0 || slice >= total {
		return remaining
	}
	return min(remaining, slice)
}

// baseParams 归一化除数量以外的委托参数。
func baseParams(req OrderRequest, defaults Defaults) (broker.OrderParams, error) {
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return broker.OrderParams{}, fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if req.TotalQty <= 0 {
		return broker.OrderParams{}, fmt.Errorf("%w: qty must be positive, got %d", ErrInvalidOrder, req.TotalQty)
	}
	limit := defaults.MaxChildren
	if limit <= 0 {
		limit = DefaultMaxChildren
	}
	if n := ChildCount(req.TotalQty, req.SliceSize); n > limit {
		return broker.OrderParams{}, fmt.Errorf("%w: %d child orders exceed limit %d", ErrInvalidOrder, n, limit)
	}

	return broker.OrderParams{
		ExchangeSegment: firstNonEmpty(req.Segment, defaults.Segment),
		Product:         firstNonEmpty(req.Product, defaults.Product),
		Price:           NormalizePrice(req.Price),
		OrderType:       NormalizeOrderType(req.Market),
		TradingSymbol:   symbol,
		TransactionType: NormalizeSide(req.Side),
		Validity:        firstNonEmpty(req.Validity, defaults.Validity),
	}, nil
}

func withQuantity(p broker.OrderParams, qty int64) broker.OrderParams {
	p.Quantity = strconv.FormatInt(qty, 10)
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
