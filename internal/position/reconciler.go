package position

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"order-relay/internal/broker"
)

const (
	// FieldFetchedLTP 为补写到持仓记录上的最新成交价字段。
	FieldFetchedLTP = "fetchedLTP"

	fieldToken   = "tok"
	fieldBuyQty  = "flBuyQty"
	fieldSellQty = "flSellQty"
)

// FallbackRecorder 在报价失败回落为 0 时被通知。
type FallbackRecorder interface {
	QuoteFallback()
}

// Result 为一次对账的结果。QuoteErr 非空表示报价调用失败且已回落为 0，不应向上传播。
type Result struct {
	Positions []broker.Position
	Open      int
	Quoted    int
	QuoteErr  error
}

// Reconciler 为未平仓持仓补充最新成交价。
type Reconciler struct {
	segment  string
	recorder FallbackRecorder
	logger   *zap.Logger
}

// NewReconciler 创建对账器，segment 为报价请求使用的交易段。
func NewReconciler(segment string, recorder FallbackRecorder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		segment:  segment,
		recorder: recorder,
		logger:   logger,
	}
}

// Reconcile 区分未平仓（买卖数量不等）与已平仓持仓，只对未平仓合约发起一次批量报价。
// 已平仓、报价缺失或报价失败的持仓 fetchedLTP 均为 0。输入记录不被修改。
func (r *Reconciler) Reconcile(ctx context.Context, quotes broker.QuoteSource, positions []broker.Position) Result {
	result := Result{Positions: make([]broker.Position, 0, len(positions))}

	tokens := make([]broker.QuoteToken, 0, len(positions))
	for _, p := range positions {
		if IsOpen(p) {
			result.Open++
			tokens = append(tokens, broker.QuoteToken{InstrumentToken: tokenOf(p), ExchangeSegment: r.segment})
		}
	}

	ltp := make(map[string]float64, len(tokens))
	if len(tokens) > 0 {
		resp, err := quotes.Quotes(ctx, tokens, broker.QuoteTypeLTP)
		if err != nil {
			result.QuoteErr = err
			if r.recorder != nil {
				r.recorder.QuoteFallback()
			}
			r.logger.Warn("批量报价失败，最新价回落为0", zap.Int("open_positions", len(tokens)), zap.Error(err))
		}
		for _, q := range resp {
			ltp[strings.TrimSpace(q.InstrumentToken)] = q.LastPrice
		}
	}

	for _, p := range positions {
		merged := make(broker.Position, len(p)+1)
		for k, v := range p {
			merged[k] = v
		}
		price, ok := ltp[tokenOf(p)]
		if ok {
			result.Quoted++
		}
		merged[FieldFetchedLTP] = price
		result.Positions = append(result.Positions, merged)
	}

	return result
}

// IsOpen 以精确十进制比较买卖数量；无法解析的数量按 0 处理。
func IsOpen(p broker.Position) bool {
	return !parseDecimal(p[fieldBuyQty]).Equal(parseDecimal(p[fieldSellQty]))
}

func tokenOf(p broker.Position) string {
	switch v := p[fieldToken].(type) {
	case nil:
		return ""
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return strings.TrimSpace(cast.ToString(v))
	}
}

func parseDecimal(value any) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(v)
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	default:
		s := strings.TrimSpace(cast.ToString(v))
		if s == "" {
			return decimal.Zero
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	return decimal.Zero
}
