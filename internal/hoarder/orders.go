package hoarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/logger"
	"eve-hoarder/internal/model"
)

const (
	ordersTickInterval  = 5 * time.Minute
	ordersSweepFailBack = 120 * time.Second
	locationFanoutWait  = 15 * time.Second
)

type rawOrder struct {
	Duration     uint32  `json:"duration"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Issued       string  `json:"issued"`
	LocationID   uint64  `json:"location_id"`
	MinVolume    uint64  `json:"min_volume"`
	OrderID      uint64  `json:"order_id"`
	Price        float64 `json:"price"`
	Range        string  `json:"range"`
	SystemID     uint64  `json:"system_id"`
	TypeID       uint64  `json:"type_id"`
	VolumeRemain uint64  `json:"volume_remain"`
	VolumeTotal  uint64  `json:"volume_total"`
}

func parseRange(s string) (model.Range, error) {
	switch s {
	case "station":
		return model.RangeStation, nil
	case "solarsystem":
		return model.RangeSolarSystem, nil
	case "region":
		return model.RangeRegion, nil
	default:
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return 0, fmt.Errorf("orders: unrecognized range %q", s)
		}
		return model.Range(n), nil
	}
}

func (ro rawOrder) toOrder(regionID uint64) (model.Order, error) {
	issued, err := time.Parse(time.RFC3339, ro.Issued)
	if err != nil {
		return model.Order{}, fmt.Errorf("orders: bad issued timestamp %q: %w", ro.Issued, err)
	}
	rng, err := parseRange(ro.Range)
	if err != nil {
		return model.Order{}, err
	}
	return model.Order{
		OrderID:      ro.OrderID,
		TypeID:       ro.TypeID,
		RegionID:     regionID,
		SystemID:     ro.SystemID,
		LocationID:   ro.LocationID,
		Price:        ro.Price,
		VolumeRemain: ro.VolumeRemain,
		VolumeTotal:  ro.VolumeTotal,
		MinVolume:    ro.MinVolume,
		Duration:     ro.Duration,
		Issued:       uint64(issued.Unix()),
		Range:        rng,
		IsBuyOrder:   ro.IsBuyOrder,
	}, nil
}

// RunOrders drives the Orders worker loop until ctx is cancelled: sweep
// every region's order book on a fixed tick, emit a dump, fan out the
// locations seen out to the Locations worker, and answer any pending
// active-markets request from the Histories worker.
func (rt *Runtime) RunOrders(ctx context.Context) error {
	var nextTickDue time.Time

	for ctx.Err() == nil {
		if now := time.Now(); now.Before(nextTickDue) {
			if err := sleepCtx(ctx, nextTickDue.Sub(now)); err != nil {
				return err
			}
			continue
		}

		sweepID := uuid.New().String()
		orders, err := rt.sweepAllRegions(ctx)
		if err != nil {
			logger.Error("orders", fmt.Sprintf("[%s] sweep failed, backing off 120s: %v", sweepID, err))
			if err := sleepCtx(ctx, ordersSweepFailBack); err != nil {
				return err
			}
			continue
		}

		now := time.Now()
		if err := rt.emitOrdersDump(orders, now); err != nil {
			logger.Error("orders", fmt.Sprintf("[%s] emit dump: %v", sweepID, err))
		}

		rt.fanoutLocations(ctx, orders)
		rt.respondActiveMarkets(orders)

		nextTickDue = now.Add(ordersTickInterval)
		logger.Info("orders", fmt.Sprintf("[%s] sweep complete", sweepID))
		logger.Stats("orders.count", len(orders))
	}
	return ctx.Err()
}

func (rt *Runtime) sweepAllRegions(ctx context.Context) ([]model.Order, error) {
	var all []model.Order
	for _, regionID := range rt.Universe.RegionIDs() {
		regionOrders, err := rt.sweepRegion(ctx, regionID)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", regionID, err)
		}
		all = append(all, regionOrders...)
	}
	return all, nil
}

func (rt *Runtime) sweepRegion(ctx context.Context, regionID uint64) ([]model.Order, error) {
	var out []model.Order

	page, pages, err := rt.fetchOrdersPage(ctx, regionID, 1)
	if err != nil {
		return nil, err
	}
	out = append(out, page...)

	for p := 2; p <= pages; p++ {
		more, newPages, err := rt.fetchOrdersPage(ctx, regionID, p)
		if err != nil {
			return nil, err
		}
		if newPages != pages {
			logger.Warn("orders", fmt.Sprintf("region %d page count changed mid-sweep: %d -> %d", regionID, pages, newPages))
			pages = newPages
		}
		out = append(out, more...)
	}
	return out, nil
}

func (rt *Runtime) fetchOrdersPage(ctx context.Context, regionID uint64, page int) ([]model.Order, int, error) {
	uri := fmt.Sprintf("/markets/%d/orders/?order_type=all&page=%d", regionID, page)
	res, err := rt.Client.Fetch(ctx, http.MethodGet, uri, nil, false, 3)
	if err != nil {
		return nil, 0, err
	}

	var raws []rawOrder
	if err := json.Unmarshal(res.Body, &raws); err != nil {
		return nil, 0, fmt.Errorf("parse orders page %d: %w", page, err)
	}

	orders := make([]model.Order, 0, len(raws))
	for _, ro := range raws {
		o, err := ro.toOrder(regionID)
		if err != nil {
			logger.Warn("orders", err.Error())
			continue
		}
		orders = append(orders, o)
	}
	return orders, res.Pages, nil
}

func (rt *Runtime) emitOrdersDump(orders []model.Order, now time.Time) error {
	path := rt.dumpPath(fmt.Sprintf("orders-%d.dump", now.Unix()))
	w, err := dump.OpenWrite(rt.Registry, path, dump.KindOrders, uint64(now.Add(300*time.Second).Unix()), false)
	if err != nil {
		return err
	}
	if err := model.WriteOrderTable(w, orders); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// fanoutLocations pushes the set of distinct location IDs referenced by
// orders onto the orders->locations FIFO, dropping (never blocking the
// worker) after a 15s timeout.
func (rt *Runtime) fanoutLocations(ctx context.Context, orders []model.Order) {
	ids := model.DistinctLocationIDs(orders)
	if len(ids) == 0 {
		return
	}
	if err := rt.locationFanout.Push(ctx, LocationBatch(ids), locationFanoutWait); err != nil {
		logger.Warn("orders", fmt.Sprintf("location fanout dropped after timeout: %v", err))
	}
}

// respondActiveMarkets non-blockingly checks whether the Histories worker
// has a pending active-markets request and, if so, answers it.
func (rt *Runtime) respondActiveMarkets(orders []model.Order) {
	if _, err := rt.marketsRequest.TryPop(); err != nil {
		return
	}
	markets := model.ActiveMarkets(orders)
	if err := rt.marketsResponse.Push(context.Background(), markets, 0); err != nil {
		logger.Warn("orders", fmt.Sprintf("active markets response push failed: %v", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
