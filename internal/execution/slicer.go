package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-relay/internal/broker"
)

// Recorder 接收拆单执行的统计事件。
type Recorder interface {
	ChildSubmitted(err error)
	SliceFinished(children int, sliced bool, err error)
}

type nopRecorder struct{}

func (nopRecorder) ChildSubmitted(error)            {}
func (nopRecorder) SliceFinished(int, bool, error) {}

// Slicer 把一笔大单拆成子单顺序提交。
//
// 同一请求的子单严格串行，不并发、不重排；任一子单调用报错即中止，
// 已提交子单不回滚。Slicer 不做幂等去重，重复调用会再次提交全部子单，
// 重试失败的请求前调用方需自行核对已成交部分。
type Slicer struct {
	pacer    Pacer
	defaults Defaults
	recorder Recorder
	logger   *zap.Logger
}

// NewSlicer 创建拆单执行器。pacer 为 nil 时使用 DefaultSliceInterval。
func NewSlicer(pacer Pacer, defaults Defaults, recorder Recorder, logger *zap.Logger) *Slicer {
	if pacer == nil {
		pacer = FixedInterval(DefaultSliceInterval)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Slicer{
		pacer:    pacer,
		defaults: defaults,
		recorder: recorder,
		logger:   logger,
	}
}

// Execute 归一化请求并按计划逐笔提交子单。
// 返回的 Outcome 总是包含已提交的子单；中途失败时 error 为 *SliceError。
func (s *Slicer) Execute(ctx context.Context, placer broker.OrderPlacer, req OrderRequest) (Outcome, error) {
	outcome := Outcome{BatchID: uuid.NewString()}

	params, err := baseParams(req, s.defaults)
	if err != nil {
		outcome.Err = err
		return outcome, err
	}
	outcome.Params = params

	children := ChildCount(req.TotalQty, req.SliceSize)

	logger := s.logger.With(
		zap.String("batch_id", outcome.BatchID),
		zap.String("symbol", params.TradingSymbol),
		zap.String("side", params.TransactionType),
		zap.String("order_type", params.OrderType),
	)
	logger.Info("开始提交委托",
		zap.Int64("total_qty", req.TotalQty),
		zap.Int64("slice_size", req.SliceSize),
		zap.Int64("children", children),
	)

	start := time.Now()
	remaining := req.TotalQty
	for seq := 1; remaining > 0; seq++ {
		if seq > 1 {
			if err := s.pacer.Pause(ctx); err != nil {
				return s.abort(logger, outcome, seq, remaining, err)
			}
		}

		qty := nextSlice(req.TotalQty, req.SliceSize, remaining)
		ack, err := placer.PlaceOrder(ctx, withQuantity(params, qty))
		s.recorder.ChildSubmitted(err)
		if err != nil {
			return s.abort(logger, outcome, seq, remaining, err)
		}

		outcome.Children = append(outcome.Children, ChildResult{Seq: seq, Quantity: qty, Ack: ack})
		remaining -= qty
		logger.Debug("子单已提交", zap.Int("seq", seq), zap.Int64("qty", qty), zap.Int64("remaining", remaining))
	}

	outcome.Sliced = len(outcome.Children) > 1
	s.recorder.SliceFinished(len(outcome.Children), outcome.Sliced, nil)
	logger.Info("委托提交完成",
		zap.Int("children", len(outcome.Children)),
		zap.Bool("sliced", outcome.Sliced),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcome, nil
}

func (s *Slicer) abort(logger *zap.Logger, outcome Outcome, seq int, remaining int64, cause error) (Outcome, error) {
	sliceErr := &SliceError{
		Seq:          seq,
		Submitted:    len(outcome.Children),
		RemainingQty: remaining,
		Err:          cause,
	}
	outcome.Sliced = len(outcome.Children) > 1
	outcome.Err = sliceErr
	s.recorder.SliceFinished(len(outcome.Children), outcome.Sliced, sliceErr)
	logger.Error("委托序列中止",
		zap.Int("failed_seq", seq),
		zap.Int("submitted", sliceErr.Submitted),
		zap.Int64("remaining_qty", remaining),
		zap.Error(cause),
	)
	return outcome, sliceErr
}
