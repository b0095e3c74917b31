package position

import (
	"context"
	"errors"
	"testing"

	"order-relay/internal/broker"
)

type stubQuotes struct {
	calls  int
	tokens []broker.QuoteToken
	quotes []broker.Quote
	err    error
}

func (s *stubQuotes) Quotes(_ context.Context, tokens []broker.QuoteToken, quoteType string) ([]broker.Quote, error) {
	s.calls++
	s.tokens = tokens
	if quoteType != broker.QuoteTypeLTP {
		return nil, errors.New("unexpected quote type " + quoteType)
	}
	return s.quotes, s.err
}

type countingFallback struct{ n int }

func (c *countingFallback) QuoteFallback() { c.n++ }

func TestReconcile_ClosedPositionsSkipQuoteCall(t *testing.T) {
	src := &stubQuotes{}
	positions := []broker.Position{
		{"tok": "111", "flBuyQty": "50", "flSellQty": "50"},
		{"tok": "222", "flBuyQty": "25.0", "flSellQty": "25"},
	}

	res := NewReconciler("nse_fo", nil, nil).Reconcile(context.Background(), src, positions)
	if src.calls != 0 {
		t.Fatalf("expected no quote call for closed positions, got %d", src.calls)
	}
	for _, p := range res.Positions {
		if p[FieldFetchedLTP] != float64(0) {
			t.Errorf("expected fetchedLTP=0, got %v", p[FieldFetchedLTP])
		}
	}
	if res.Open != 0 {
		t.Errorf("expected 0 open positions, got %d", res.Open)
	}
}

func TestReconcile_MergesQuotedPriceByToken(t *testing.T) {
	src := &stubQuotes{quotes: []broker.Quote{{InstrumentToken: "111", LastPrice: 101.5}}}
	positions := []broker.Position{
		{"tok": "111", "flBuyQty": "50", "flSellQty": "0"},
		{"tok": "222", "flBuyQty": "50", "flSellQty": "50"},
		{"tok": float64(333), "flBuyQty": float64(10), "flSellQty": "0"},
	}

	res := NewReconciler("nse_fo", nil, nil).Reconcile(context.Background(), src, positions)
	if src.calls != 1 {
		t.Fatalf("expected one batched quote call, got %d", src.calls)
	}
	if len(src.tokens) != 2 || src.tokens[0].InstrumentToken != "111" || src.tokens[1].InstrumentToken != "333" {
		t.Fatalf("unexpected quote tokens: %+v", src.tokens)
	}
	if src.tokens[0].ExchangeSegment != "nse_fo" {
		t.Errorf("expected nse_fo segment, got %s", src.tokens[0].ExchangeSegment)
	}

	want := []float64{101.5, 0, 0}
	for i, p := range res.Positions {
		if p[FieldFetchedLTP] != want[i] {
			t.Errorf("position %d fetchedLTP=%v want %v", i, p[FieldFetchedLTP], want[i])
		}
	}
	if res.Open != 2 || res.Quoted != 1 {
		t.Errorf("unexpected counts open=%d quoted=%d", res.Open, res.Quoted)
	}
	if _, mutated := positions[0][FieldFetchedLTP]; mutated {
		t.Errorf("input records must not be modified")
	}
}

func TestReconcile_QuoteFailureDegradesToZero(t *testing.T) {
	src := &stubQuotes{err: errors.New("quotes down")}
	fallback := &countingFallback{}
	positions := []broker.Position{{"tok": "111", "flBuyQty": "50", "flSellQty": "0", "trdSym": "NIFTY"}}

	res := NewReconciler("nse_fo", fallback, nil).Reconcile(context.Background(), src, positions)
	if res.QuoteErr == nil {
		t.Fatalf("expected recovered quote error to be reported")
	}
	if fallback.n != 1 {
		t.Errorf("expected fallback to be recorded once, got %d", fallback.n)
	}
	if len(res.Positions) != 1 || res.Positions[0][FieldFetchedLTP] != float64(0) {
		t.Fatalf("expected fetchedLTP=0, got %+v", res.Positions)
	}
	if res.Positions[0]["trdSym"] != "NIFTY" {
		t.Errorf("broker fields must pass through")
	}
}

func TestIsOpen(t *testing.T) {
	cases := []struct {
		pos  broker.Position
		want bool
	}{
		{broker.Position{"flBuyQty": "10", "flSellQty": "10.00"}, false},
		{broker.Position{"flBuyQty": "10", "flSellQty": "5"}, true},
		{broker.Position{}, false},
		{broker.Position{"flBuyQty": "abc", "flSellQty": "0"}, false},
		{broker.Position{"flBuyQty": float64(3)}, true},
	}
	for i, tc := range cases {
		if got := IsOpen(tc.pos); got != tc.want {
			t.Errorf("case %d: IsOpen=%v want %v", i, got, tc.want)
		}
	}
}
