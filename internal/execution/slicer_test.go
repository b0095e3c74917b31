package execution

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"order-relay/internal/broker"
)

var testDefaults = Defaults{Segment: "nse_fo", Product: "NRML", Validity: "DAY"}

type mockPlacer struct {
	calls  []broker.OrderParams
	failAt int // 1-based; 0 never fails
	err    error
}

func (m *mockPlacer) PlaceOrder(_ context.Context, params broker.OrderParams) (broker.Ack, error) {
	m.calls = append(m.calls, params)
	if m.failAt > 0 && len(m.calls) == m.failAt {
		return nil, m.err
	}
	return broker.Ack{"nOrdNo": strconv.Itoa(len(m.calls)), "stat": "Ok"}, nil
}

type countingPacer struct {
	pauses int
	placer *mockPlacer
	seen   []int // calls observed at each pause
}

func (p *countingPacer) Pause(context.Context) error {
	p.pauses++
	if p.placer != nil {
		p.seen = append(p.seen, len(p.placer.calls))
	}
	return nil
}

type recordingRecorder struct {
	children []error
	finished int
	lastErr  error
}

func (r *recordingRecorder) ChildSubmitted(err error) { r.children = append(r.children, err) }
func (r *recordingRecorder) SliceFinished(_ int, _ bool, err error) {
	r.finished++
	r.lastErr = err
}

func quantities(t *testing.T, calls []broker.OrderParams) []int64 {
	t.Helper()
	out := make([]int64, 0, len(calls))
	for _, c := range calls {
		q, err := strconv.ParseInt(c.Quantity, 10, 64)
		if err != nil {
			t.Fatalf("quantity %q not an integer: %v", c.Quantity, err)
		}
		out = append(out, q)
	}
	return out
}

func TestSlicer_Scenario250By100(t *testing.T) {
	placer := &mockPlacer{}
	pacer := &countingPacer{placer: placer}
	slicer := NewSlicer(pacer, testDefaults, nil, nil)

	outcome, err := slicer.Execute(context.Background(), placer, OrderRequest{
		Symbol: "NIFTY24JANFUT", Side: "buy", TotalQty: 250, SliceSize: 100, Market: true,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	got := quantities(t, placer.calls)
	want := []int64{100, 100, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %d gateway calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("child %d qty=%d want %d", i+1, got[i], want[i])
		}
	}
	if !outcome.Sliced {
		t.Errorf("expected Sliced=true")
	}
	if pacer.pauses != 2 {
		t.Errorf("expected 2 pauses, got %d", pacer.pauses)
	}
	if pacer.seen[0] != 1 || pacer.seen[1] != 2 {
		t.Errorf("pauses must fall strictly between children, saw %v", pacer.seen)
	}
	for i, c := range outcome.Children {
		if c.Seq != i+1 || c.Ack["nOrdNo"] != strconv.Itoa(i+1) {
			t.Errorf("child %d out of order: %+v", i, c)
		}
	}
	if outcome.BatchID == "" {
		t.Errorf("expected batch id")
	}
}

func TestSlicer_PartitionProperty(t *testing.T) {
	for total := int64(1); total <= 60; total++ {
		for slice := int64(1); slice < total; slice++ {
			placer := &mockPlacer{}
			pacer := &countingPacer{}
			outcome, err := NewSlicer(pacer, testDefaults, nil, nil).Execute(context.Background(), placer, OrderRequest{
				Symbol: "X", Side: "S", TotalQty: total, SliceSize: slice,
			})
			if err != nil {
				t.Fatalf("total=%d slice=%d: unexpected error %v", total, slice, err)
			}

			qs := quantities(t, placer.calls)
			wantN := int((total + slice - 1) / slice)
			if len(qs) != wantN {
				t.Fatalf("total=%d slice=%d: %d children, want %d", total, slice, len(qs), wantN)
			}
			var sum int64
			for _, q := range qs {
				if q > slice || q <= 0 {
					t.Fatalf("total=%d slice=%d: child qty %d out of range", total, slice, q)
				}
				sum += q
			}
			if sum != total {
				t.Fatalf("total=%d slice=%d: sum %d", total, slice, sum)
			}
			last := total % slice
			if last == 0 {
				last = slice
			}
			if qs[len(qs)-1] != last {
				t.Fatalf("total=%d slice=%d: last child %d want %d", total, slice, qs[len(qs)-1], last)
			}
			if pacer.pauses != wantN-1 {
				t.Fatalf("total=%d slice=%d: %d pauses want %d", total, slice, pacer.pauses, wantN-1)
			}
			if outcome.Sliced != (wantN > 1) {
				t.Fatalf("total=%d slice=%d: Sliced=%v", total, slice, outcome.Sliced)
			}
			if outcome.SubmittedQty() != total {
				t.Fatalf("total=%d slice=%d: submitted %d", total, slice, outcome.SubmittedQty())
			}
		}
	}
}

func TestSlicer_SingleChildCases(t *testing.T) {
	cases := []struct {
		total, slice int64
	}{
		{100, 0},
		{100, -5},
		{100, 100},
		{100, 150},
		{1, 1},
	}
	for _, tc := range cases {
		placer := &mockPlacer{}
		pacer := &countingPacer{}
		outcome, err := NewSlicer(pacer, testDefaults, nil, nil).Execute(context.Background(), placer, OrderRequest{
			Symbol: "X", TotalQty: tc.total, SliceSize: tc.slice,
		})
		if err != nil {
			t.Fatalf("total=%d slice=%d: unexpected error %v", tc.total, tc.slice, err)
		}
		if len(placer.calls) != 1 || placer.calls[0].Quantity != strconv.FormatInt(tc.total, 10) {
			t.Fatalf("total=%d slice=%d: unexpected calls %+v", tc.total, tc.slice, placer.calls)
		}
		if outcome.Sliced {
			t.Errorf("total=%d slice=%d: expected Sliced=false", tc.total, tc.slice)
		}
		if pacer.pauses != 0 {
			t.Errorf("total=%d slice=%d: expected no pause, got %d", tc.total, tc.slice, pacer.pauses)
		}
	}
}

func TestSlicer_AbortsOnKthFailure(t *testing.T) {
	cause := errors.New("connection reset")
	for k := 1; k <= 5; k++ {
		placer := &mockPlacer{failAt: k, err: cause}
		rec := &recordingRecorder{}
		outcome, err := NewSlicer(NoDelay{}, testDefaults, rec, nil).Execute(context.Background(), placer, OrderRequest{
			Symbol: "X", Side: "B", TotalQty: 50, SliceSize: 10,
		})

		var sliceErr *SliceError
		if !errors.As(err, &sliceErr) {
			t.Fatalf("k=%d: expected *SliceError, got %v", k, err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("k=%d: expected error to wrap cause", k)
		}
		if len(placer.calls) != k {
			t.Fatalf("k=%d: expected %d attempts, got %d", k, k, len(placer.calls))
		}
		if len(outcome.Children) != k-1 {
			t.Fatalf("k=%d: expected %d children, got %d", k, k-1, len(outcome.Children))
		}
		if sliceErr.Seq != k || sliceErr.Submitted != k-1 {
			t.Errorf("k=%d: unexpected SliceError %+v", k, sliceErr)
		}
		if sliceErr.RemainingQty != 50-int64(k-1)*10 {
			t.Errorf("k=%d: remaining %d", k, sliceErr.RemainingQty)
		}
		if sliceErr.Partial() != (k > 1) {
			t.Errorf("k=%d: Partial=%v", k, sliceErr.Partial())
		}
		if outcome.Err == nil {
			t.Errorf("k=%d: outcome must carry the error", k)
		}
		if rec.finished != 1 || rec.lastErr == nil || len(rec.children) != k {
			t.Errorf("k=%d: recorder saw finished=%d children=%d err=%v", k, rec.finished, len(rec.children), rec.lastErr)
		}
	}
}

func TestSlicer_FirstChildFailureMessageIsCause(t *testing.T) {
	placer := &mockPlacer{failAt: 1, err: errors.New("RMS: insufficient margin")}
	_, err := NewSlicer(NoDelay{}, testDefaults, nil, nil).Execute(context.Background(), placer, OrderRequest{
		Symbol: "X", TotalQty: 10,
	})
	if err == nil || err.Error() != "RMS: insufficient margin" {
		t.Fatalf("expected bare cause message, got %v", err)
	}
}

func TestSlicer_RejectsInvalidRequest(t *testing.T) {
	for _, req := range []OrderRequest{
		{Symbol: "X", TotalQty: 0},
		{Symbol: "X", TotalQty: -1},
		{Symbol: "  ", TotalQty: 10},
	} {
		placer := &mockPlacer{}
		_, err := NewSlicer(NoDelay{}, testDefaults, nil, nil).Execute(context.Background(), placer, req)
		if !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("%+v: expected ErrInvalidOrder, got %v", req, err)
		}
		if len(placer.calls) != 0 {
			t.Errorf("%+v: broker must not be called", req)
		}
	}
}

func TestSlicer_NoDeduplication(t *testing.T) {
	placer := &mockPlacer{}
	slicer := NewSlicer(NoDelay{}, testDefaults, nil, nil)
	req := OrderRequest{Symbol: "X", TotalQty: 30, SliceSize: 10}

	first, _ := slicer.Execute(context.Background(), placer, req)
	second, _ := slicer.Execute(context.Background(), placer, req)
	if len(placer.calls) != 6 {
		t.Fatalf("expected every invocation to submit new children, got %d calls", len(placer.calls))
	}
	if first.BatchID == second.BatchID {
		t.Errorf("expected distinct batch ids")
	}
}

func TestSlicer_CanceledPauseAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	placer := &mockPlacer{}
	pacer := pacerFunc(func(context.Context) error {
		cancel()
		return context.Canceled
	})
	outcome, err := NewSlicer(pacer, testDefaults, nil, nil).Execute(ctx, placer, OrderRequest{
		Symbol: "X", TotalQty: 30, SliceSize: 10,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcome.Children) != 1 || len(placer.calls) != 1 {
		t.Fatalf("expected only the first child, got %d", len(outcome.Children))
	}
}

type pacerFunc func(context.Context) error

func (f pacerFunc) Pause(ctx context.Context) error { return f(ctx) }

func TestSlicer_NormalizesParams(t *testing.T) {
	placer := &mockPlacer{}
	_, err := NewSlicer(NoDelay{}, testDefaults, nil, nil).Execute(context.Background(), placer, OrderRequest{
		Symbol: "NIFTY24JANFUT", Side: "Sell-to-cover-B", Price: "  ", TotalQty: 5, Segment: "bse_fo",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	got := placer.calls[0]
	want := broker.OrderParams{
		ExchangeSegment: "bse_fo", Product: "NRML", Price: "0", OrderType: "L",
		TradingSymbol: "NIFTY24JANFUT", TransactionType: "B", Validity: "DAY", Quantity: "5",
	}
	if got != want {
		t.Fatalf("unexpected params:\n got %+v\nwant %+v", got, want)
	}
}

func TestNormalizeSide(t *testing.T) {
	for _, in := range []string{"BUY", "buy", "Sell-to-cover-B", "b"} {
		if got := NormalizeSide(in); got != SideBuy {
			t.Errorf("NormalizeSide(%q)=%s want B", in, got)
		}
	}
	for _, in := range []string{"SELL", "S", "", "short"} {
		if got := NormalizeSide(in); got != SideSell {
			t.Errorf("NormalizeSide(%q)=%s want S", in, got)
		}
	}
}

func TestNormalizePriceAndType(t *testing.T) {
	if NormalizePrice("") != "0" || NormalizePrice(" \t") != "0" {
		t.Errorf("blank price must default to 0")
	}
	if NormalizePrice(" 101.5 ") != "101.5" {
		t.Errorf("price must be trimmed")
	}
	if NormalizeOrderType(true) != OrderTypeMarket || NormalizeOrderType(false) != OrderTypeLimit {
		t.Errorf("unexpected order type mapping")
	}
}

func TestChildCount(t *testing.T) {
	cases := []struct {
		total, slice, want int64
	}{
		{250, 100, 3},
		{300, 100, 3},
		{10, 0, 1},
		{10, 10, 1},
		{0, 10, 0},
		{math.MaxInt64, 2, math.MaxInt64/2 + 1},
		{math.MaxInt64, math.MaxInt64 - 1, 2},
	}
	for _, tc := range cases {
		if got := ChildCount(tc.total, tc.slice); got != tc.want {
			t.Errorf("ChildCount(%d, %d) = %d, want %d", tc.total, tc.slice, got, tc.want)
		}
	}
}

func TestSlicer_HugeQuantityRejectedBeforeGateway(t *testing.T) {
	placer := &mockPlacer{}
	slicer := NewSlicer(NoDelay{}, testDefaults, nil, nil)

	outcome, err := slicer.Execute(context.Background(), placer, OrderRequest{
		Symbol: "NIFTY24JANFUT", Side: "B", TotalQty: math.MaxInt64, SliceSize: 2,
	})
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
	if len(placer.calls) != 0 || len(outcome.Children) != 0 {
		t.Errorf("no child may be submitted, got %d calls", len(placer.calls))
	}
}

func TestSlicer_MaxChildrenLimit(t *testing.T) {
	limited := testDefaults
	limited.MaxChildren = 5
	slicer := NewSlicer(NoDelay{}, limited, nil, nil)

	placer := &mockPlacer{}
	_, err := slicer.Execute(context.Background(), placer, OrderRequest{Symbol: "NIFTY", TotalQty: 10, SliceSize: 1})
	if !errors.Is(err, ErrInvalidOrder) || len(placer.calls) != 0 {
		t.Fatalf("expected rejection before any call, got err=%v calls=%d", err, len(placer.calls))
	}

	placer = &mockPlacer{}
	outcome, err := slicer.Execute(context.Background(), placer, OrderRequest{Symbol: "NIFTY", TotalQty: 10, SliceSize: 2})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(outcome.Children) != 5 || len(placer.calls) != 5 {
		t.Errorf("expected exactly 5 children at the limit, got %d", len(outcome.Children))
	}
}

func TestSlicer_LastChildOfUnevenLargeQuantity(t *testing.T) {
	placer := &mockPlacer{}
	slicer := NewSlicer(NoDelay{}, testDefaults, nil, nil)

	total := int64(math.MaxInt64)
	slice := total/3 + 1
	outcome, err := slicer.Execute(context.Background(), placer, OrderRequest{Symbol: "NIFTY", TotalQty: total, SliceSize: slice})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if outcome.SubmittedQty() != total || len(outcome.Children) != 3 {
		t.Errorf("expected 3 children summing to %d, got %d children summing to %d",
			total, len(outcome.Children), outcome.SubmittedQty())
	}
}
