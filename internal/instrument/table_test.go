package instrument

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleMaster = " pSymbol , pTrdSymbol ,lLotSize,pExchSeg\n" +
	"35001,NIFTY24JANFUT,50,nse_fo\n" +
	"35002,BANKNIFTY24JANFUT,15,nse_fo\n" +
	"35003,NIFTY24JAN21000CE,50.0,nse_fo\n"

func TestParse_TrimsHeadersAndMapsColumns(t *testing.T) {
	table, err := Parse(strings.NewReader(sampleMaster))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.Len())
	}

	got := table.Search("banknifty")
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].Token != "35002" || got[0].LotSize != 15 {
		t.Errorf("unexpected record: %+v", got[0])
	}
}

func TestParse_FallsBackToFirstColumnForToken(t *testing.T) {
	table, err := Parse(strings.NewReader("pInstToken,pTrdSymbol\n9,SBINFUT\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	got := table.Search("SBI")
	if len(got) != 1 || got[0].Token != "9" {
		t.Fatalf("unexpected search result: %+v", got)
	}
}

func TestParse_RequiresTradingSymbolColumn(t *testing.T) {
	if _, err := Parse(strings.NewReader("a,b\n1,2\n")); err == nil {
		t.Fatalf("expected error for missing pTrdSymbol column")
	}
}

func TestSearch_ShortQueryAndNilTable(t *testing.T) {
	table := NewTable([]Record{{TradingSymbol: "NIFTY"}})
	if got := table.Search("NI"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice for short query, got %v", got)
	}

	var missing *Table
	if got := missing.Search("NIFTY"); len(got) != 0 {
		t.Fatalf("expected no results from nil table, got %v", got)
	}
}

func TestSearch_CapsResults(t *testing.T) {
	records := make([]Record, 0, 25)
	for i := 0; i < 25; i++ {
		records = append(records, Record{TradingSymbol: fmt.Sprintf("NIFTY%02d", i)})
	}
	if got := NewTable(records).Search("nifty"); len(got) != MaxResults {
		t.Fatalf("expected %d results, got %d", MaxResults, len(got))
	}
}

type stubMaster struct {
	paths []string
	err   error
}

func (s stubMaster) ScripMasterPaths(context.Context) ([]string, error) {
	return s.paths, s.err
}

func TestLoader_DownloadsMatchingSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "nse_fo.csv") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleMaster))
	}))
	defer srv.Close()

	loader := NewLoader("nse_fo", time.Second, nil)
	table, err := loader.Load(context.Background(), stubMaster{paths: []string{
		srv.URL + "/cm/nse_cm.csv",
		srv.URL + "/fo/nse_fo.csv",
	}})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", table.Len())
	}
}

func TestLoader_NoMatchingFile(t *testing.T) {
	loader := NewLoader("nse_fo", time.Second, nil)
	_, err := loader.Load(context.Background(), stubMaster{paths: []string{"http://x/nse_cm.csv"}})
	if !errors.Is(err, ErrNoMasterFile) {
		t.Fatalf("expected ErrNoMasterFile, got %v", err)
	}
}
