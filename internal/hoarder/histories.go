package hoarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/logger"
	"eve-hoarder/internal/model"
)

var historiesBackoff = []time.Duration{
	5 * time.Minute, 5 * time.Minute, 5 * time.Minute,
	30 * time.Minute, 30 * time.Minute,
	2 * time.Hour,
}

const (
	historiesCadenceHour    = 11
	historiesCadenceMinute  = 15
	historiesRequestTimeout = 3 * time.Hour
	historiesChunkSize      = 10000
)

type rawHistoryBit struct {
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	OrderCount uint64  `json:"order_count"`
	Volume     uint64  `json:"volume"`
	Date       string  `json:"date"`
}

// HistoriesWorker drives the daily history download cadence: once past
// the day's anchor time, it asks Orders for the active market set, fetches
// each market's history, and writes out the bits for the target date.
type HistoriesWorker struct {
	rt *Runtime
}

// NewHistoriesWorker builds a HistoriesWorker bound to rt.
func NewHistoriesWorker(rt *Runtime) *HistoriesWorker {
	return &HistoriesWorker{rt: rt}
}

// Run performs the initial backfill (if the dump for two days ago is
// missing) and then drives the steady-state daily loop until ctx is
// cancelled.
func (w *HistoriesWorker) Run(ctx context.Context) error {
	backfillDate := model.FromTime(time.Now().UTC().AddDate(0, 0, -2))
	if !w.dayDumpExists(backfillDate) {
		if err := w.backfill(ctx); err != nil {
			logger.Error("histories", fmt.Sprintf("initial backfill: %v", err))
		}
	}

	nextTickDue := w.nextAnchor(time.Now().UTC())
	for ctx.Err() == nil {
		if now := time.Now().UTC(); now.Before(nextTickDue) {
			if err := sleepCtx(ctx, nextTickDue.Sub(now)); err != nil {
				return err
			}
			continue
		}

		markets, err := w.requestActiveMarkets(ctx, historiesRequestTimeout)
		if err != nil {
			return fmt.Errorf("histories: active markets request: %w", err)
		}

		now := time.Now().UTC()
		target := w.targetDate(now)

		var bits []model.HistoryBit
		for _, market := range markets {
			marketBits, err := w.historyDownload(ctx, market)
			if err != nil {
				logger.Warn("histories", fmt.Sprintf("market %+v: %v", market, err))
				continue
			}
			for _, b := range marketBits {
				if b.Date.Equal(target) {
					bits = append(bits, b)
				}
			}
		}

		if err := w.emitDay(target, bits); err != nil {
			return fmt.Errorf("histories: emit day %s: %w", target, err)
		}

		nextTickDue = nextTickDue.AddDate(0, 0, 1)
	}
	return ctx.Err()
}

// nextAnchor returns the next 11:15 UTC boundary strictly after now.
func (w *HistoriesWorker) nextAnchor(now time.Time) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), historiesCadenceHour, historiesCadenceMinute, 0, 0, time.UTC)
	if now.Before(anchor) {
		return anchor
	}
	return anchor.AddDate(0, 0, 1)
}

// targetDate is the most recent date upstream guarantees is final: two days
// back before today's anchor has passed, one day back after.
func (w *HistoriesWorker) targetDate(now time.Time) model.Date {
	anchor := time.Date(now.Year(), now.Month(), now.Day(), historiesCadenceHour, historiesCadenceMinute, 0, 0, time.UTC)
	if now.Before(anchor) {
		return model.FromTime(now.AddDate(0, 0, -2))
	}
	return model.FromTime(now.AddDate(0, 0, -1))
}

func (w *HistoriesWorker) requestActiveMarkets(ctx context.Context, timeout time.Duration) ([]model.MarketKey, error) {
	if err := w.rt.marketsRequest.Push(ctx, activeMarketsRequest{}, 5*time.Second); err != nil {
		return nil, fmt.Errorf("histories: request active markets: %w", err)
	}
	markets, err := w.rt.marketsResponse.Pop(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("histories: await active markets: %w", err)
	}
	return markets, nil
}

func (w *HistoriesWorker) historyDownload(ctx context.Context, market model.MarketKey) ([]model.HistoryBit, error) {
	var lastErr error
	for try := 0; try <= len(historiesBackoff); try++ {
		bits, err := w.fetchHistoryOnce(ctx, market)
		if err == nil {
			return bits, nil
		}
		lastErr = err
		if try < len(historiesBackoff) {
			if err := sleepCtx(ctx, historiesBackoff[try]); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("history download exhausted %d tries: %w", len(historiesBackoff)+1, lastErr)
}

func (w *HistoriesWorker) fetchHistoryOnce(ctx context.Context, market model.MarketKey) ([]model.HistoryBit, error) {
	uri := fmt.Sprintf("/markets/%d/history/?type_id=%d", market.RegionID, market.TypeID)
	res, err := w.rt.Client.Fetch(ctx, http.MethodGet, uri, nil, false, 5)
	if err != nil {
		return nil, err
	}

	var raws []rawHistoryBit
	if err := json.Unmarshal(res.Body, &raws); err != nil {
		return nil, fmt.Errorf("parse history body: %w", err)
	}

	bits := make([]model.HistoryBit, 0, len(raws))
	for _, raw := range raws {
		d, err := model.FromYMD(raw.Date)
		if err != nil {
			logger.Warn("histories", fmt.Sprintf("bad date %q: %v", raw.Date, err))
			continue
		}
		bits = append(bits, model.HistoryBit{
			Date:       d,
			RegionID:   market.RegionID,
			TypeID:     market.TypeID,
			Average:    raw.Average,
			Highest:    raw.Highest,
			Lowest:     raw.Lowest,
			OrderCount: raw.OrderCount,
			Volume:     raw.Volume,
		})
	}
	return bits, nil
}

func (w *HistoriesWorker) dayDumpPath(d model.Date) string {
	return w.rt.dumpPath(fmt.Sprintf("history-day-%s.dump", d))
}

func (w *HistoriesWorker) dayDumpExists(d model.Date) bool {
	_, err := os.Stat(w.dayDumpPath(d))
	return err == nil
}

// emitDay writes one day's bits, skipping with a warning if that exact
// dump already exists rather than overwriting it.
func (w *HistoriesWorker) emitDay(d model.Date, bits []model.HistoryBit) error {
	path := w.dayDumpPath(d)
	wr, err := dump.OpenWrite(w.rt.Registry, path, dump.KindHistories, 0, true)
	if err != nil {
		if errors.Is(err, dump.ErrAlreadyExists) {
			logger.Warn("histories", fmt.Sprintf("day %s dump already exists, skipping", d))
			return nil
		}
		return err
	}
	if err := model.WriteHistoryDay(wr, bits); err != nil {
		wr.Abort()
		return err
	}
	return wr.Close()
}

// backfill collects every market's full history into a temporary snapshot
// dump, then replays it date-by-date into per-day dumps without holding
// the whole dataset in memory.
func (w *HistoriesWorker) backfill(ctx context.Context) error {
	markets, err := w.requestActiveMarkets(ctx, historiesRequestTimeout)
	if err != nil {
		return err
	}

	snapshotPath := filepath.Join(os.TempDir(), fmt.Sprintf("hoarder-snapshot-%d.dump", time.Now().UnixNano()))
	snap, err := dump.OpenWrite(w.rt.Registry, snapshotPath, dump.KindInternal, 0, false)
	if err != nil {
		return err
	}
	defer os.Remove(snapshotPath)

	var earliest, latest model.Date
	haveDates := false

	for _, market := range markets {
		bits, err := w.historyDownload(ctx, market)
		if err != nil {
			logger.Warn("histories", fmt.Sprintf("backfill market %+v: %v", market, err))
			continue
		}
		for _, b := range bits {
			if err := b.WriteTo(snap); err != nil {
				snap.Abort()
				return err
			}
			if !haveDates {
				earliest, latest = b.Date, b.Date
				haveDates = true
				continue
			}
			if b.Date.Before(earliest) {
				earliest = b.Date
			}
			if latest.Before(b.Date) {
				latest = b.Date
			}
		}
	}
	if err := snap.Close(); err != nil {
		return err
	}
	if !haveDates {
		return nil
	}

	return w.replaySnapshot(snapshotPath, earliest, latest)
}

func (w *HistoriesWorker) replaySnapshot(snapshotPath string, earliest, latest model.Date) error {
	for d := earliest; ; d = d.Incr() {
		if err := w.replayDate(snapshotPath, d); err != nil {
			return err
		}
		if d.Equal(latest) {
			break
		}
	}
	return nil
}

func (w *HistoriesWorker) replayDate(snapshotPath string, d model.Date) error {
	path := w.dayDumpPath(d)
	if w.dayDumpExists(d) {
		logger.Warn("histories", fmt.Sprintf("backfill day %s dump already exists, skipping", d))
		return nil
	}

	reader, err := dump.OpenRead(snapshotPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	wr, err := dump.OpenWrite(w.rt.Registry, path, dump.KindHistories, 0, true)
	if err != nil {
		if errors.Is(err, dump.ErrAlreadyExists) {
			logger.Warn("histories", fmt.Sprintf("day %s dump already exists, skipping", d))
			return nil
		}
		return err
	}

	writeErr := model.ReadHistoryDayChunked(reader, historiesChunkSize, func(chunk []model.HistoryBit) error {
		for _, b := range chunk {
			if !b.Date.Equal(d) {
				continue
			}
			if err := b.WriteTo(wr); err != nil {
				return err
			}
		}
		return nil
	})
	if writeErr != nil {
		wr.Abort()
		return writeErr
	}
	return wr.Close()
}
