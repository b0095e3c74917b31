package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"order-relay/internal/broker"
	"order-relay/internal/config"
	"order-relay/internal/execution"
	"order-relay/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(context.Background(), st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordAndListByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordLogin(ctx, "UCC1", 120, "1000.00")
	svc.RecordExecution(ctx, execution.OrderRequest{TotalQty: 250, SliceSize: 100}, execution.Outcome{
		BatchID: "b-1",
		Params:  broker.OrderParams{TradingSymbol: "NIFTY", TransactionType: "B", OrderType: "MKT"},
		Children: []execution.ChildResult{
			{Seq: 1, Quantity: 100},
			{Seq: 2, Quantity: 100},
		},
		Sliced: true,
		Err:    errors.New("child order 3 failed"),
	})
	svc.RecordLogout(ctx, "UCC1")

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(all) != 3 || all[0].Type != EventLogout {
		t.Fatalf("expected 3 events newest first, got %+v", all)
	}

	execs, err := svc.ListEvents(ctx, EventExecution, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution event, got %d", len(execs))
	}

	var payload ExecutionPayload
	if err := json.Unmarshal(execs[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SubmittedQty != 200 || payload.Children != 2 || payload.Error == "" || payload.BatchID != "b-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if execs[0].Timestamp.IsZero() {
		t.Errorf("expected parsed timestamp")
	}
}

func TestService_ListLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.RecordError(ctx, "quote failure", errors.New("down"), map[string]interface{}{"i": i})
	}
	events, err := svc.ListEvents(ctx, EventError, 2)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
