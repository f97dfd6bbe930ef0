package hoarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/esi"
	"eve-hoarder/internal/model"
	"eve-hoarder/internal/universe"
)

func testUniverse(t *testing.T) *universe.Table {
	t.Helper()
	u, err := universe.Load()
	if err != nil {
		t.Fatalf("universe.Load: %v", err)
	}
	return u
}

func newTestRuntime(t *testing.T, srv *httptest.Server) *Runtime {
	t.Helper()
	client := esi.NewClient(nil, 1000)
	client.BaseURL = srv.URL
	dumpDir := t.TempDir()
	return NewRuntime(client, nil, dump.NewRegistry(), testUniverse(t), dumpDir)
}

func TestOrdersSweepWritesDumpAndFansOutLocations(t *testing.T) {
	order := map[string]interface{}{
		"duration":      90,
		"is_buy_order":  false,
		"issued":        "2026-01-01T00:00:00Z",
		"location_id":   60003760,
		"min_volume":    1,
		"order_id":      1234,
		"price":         5.5,
		"range":         "region",
		"system_id":     30000142,
		"type_id":       34,
		"volume_remain": 100,
		"volume_total":  200,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "1")
		json.NewEncoder(w).Encode([]interface{}{order})
	}))
	defer srv.Close()

	rt := newTestRuntime(t, srv)
	orders, err := rt.sweepAllRegions(context.Background())
	if err != nil {
		t.Fatalf("sweepAllRegions: %v", err)
	}
	if len(orders) == 0 {
		t.Fatal("expected the sweep to return at least one order")
	}

	now := time.Now()
	if err := rt.emitOrdersDump(orders, now); err != nil {
		t.Fatalf("emitOrdersDump: %v", err)
	}
	path := rt.dumpPath(fmt.Sprintf("orders-%d.dump", now.Unix()))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dump file missing: %v", err)
	}

	rt.fanoutLocations(context.Background(), orders)
	batch, err := rt.locationFanout.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("pop location fanout: %v", err)
	}
	if len(batch) == 0 {
		t.Fatal("expected a non-empty location batch")
	}
}

func TestRespondActiveMarketsOnlyWhenRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "1")
		json.NewEncoder(w).Encode([]interface{}{})
	}))
	defer srv.Close()
	rt := newTestRuntime(t, srv)

	orders := []model.Order{{RegionID: 10000002, TypeID: 34}}

	rt.respondActiveMarkets(orders)
	if _, err := rt.marketsResponse.TryPop(); err == nil {
		t.Fatal("expected no response without a prior request")
	}

	if err := rt.marketsRequest.Push(context.Background(), activeMarketsRequest{}, 0); err != nil {
		t.Fatalf("push request: %v", err)
	}
	rt.respondActiveMarkets(orders)
	markets, err := rt.marketsResponse.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("pop response: %v", err)
	}
	if len(markets) != 1 || markets[0].RegionID != 10000002 {
		t.Errorf("markets = %+v", markets)
	}
}

func TestLocationsWorkerFetchesAndBlacklists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/universe/structures/1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"name": "Test Station", "owner_id": 99, "solar_system_id": 30000142, "type_id": 52678,
			})
		case "/universe/structures/2":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	rt := newTestRuntime(t, srv)

	worker := NewLocationsWorker(rt, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	if err := rt.locationFanout.Push(context.Background(), LocationBatch{1, 2}, time.Second); err != nil {
		t.Fatalf("push batch: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if _, ok := worker.known[1]; !ok {
		t.Error("location 1 should have been fetched and kept")
	}
	if !worker.forbidden[2] {
		t.Error("location 2 should have been blacklisted after a 403")
	}

	entries, _ := filepath.Glob(filepath.Join(rt.DumpDir, "loc-*.dump"))
	if len(entries) == 0 {
		t.Error("expected a locations dump to have been emitted")
	}
}

func TestHistoriesTargetDateBeforeAndAfterAnchor(t *testing.T) {
	w := &HistoriesWorker{}
	before := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	after := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	gotBefore := w.targetDate(before)
	wantBefore := model.FromTime(before.AddDate(0, 0, -2))
	if gotBefore != wantBefore {
		t.Errorf("targetDate(before anchor) = %v, want %v", gotBefore, wantBefore)
	}

	gotAfter := w.targetDate(after)
	wantAfter := model.FromTime(after.AddDate(0, 0, -1))
	if gotAfter != wantAfter {
		t.Errorf("targetDate(after anchor) = %v, want %v", gotAfter, wantAfter)
	}
}

func TestHistoriesEmitDaySkipsExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	rt := newTestRuntime(t, srv)
	worker := NewHistoriesWorker(rt)

	d := model.Date{Year: 2026, Day: 42}
	bits := []model.HistoryBit{{Date: d, RegionID: 1, TypeID: 2, Average: 1.5}}

	if err := worker.emitDay(d, bits); err != nil {
		t.Fatalf("first emitDay: %v", err)
	}
	ok, _, _, err := dump.VerifyChecksum(worker.dayDumpPath(d))
	if err != nil || !ok {
		t.Fatalf("checksum invalid after first emit: ok=%v err=%v", ok, err)
	}

	if err := worker.emitDay(d, bits); err != nil {
		t.Fatalf("second emitDay (should skip, not error): %v", err)
	}
}
