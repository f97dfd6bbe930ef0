package hoarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/esierr"
	"eve-hoarder/internal/logger"
	"eve-hoarder/internal/model"
)

type rawStructure struct {
	Name          string `json:"name"`
	OwnerID       uint64 `json:"owner_id"`
	SolarSystemID uint64 `json:"solar_system_id"`
	TypeID        uint64 `json:"type_id"`
}

// LocationsWorker owns the discovered-location vector and the blacklist of
// IDs known to be unfetchable. It is not part of Runtime because, unlike
// the rate gate or token cache, this state belongs to exactly one worker
// and no other goroutine touches it.
type LocationsWorker struct {
	rt        *Runtime
	known     map[uint64]model.Location
	order     []uint64 // discovery order, for stable dump emission
	forbidden map[uint64]bool
}

// NewLocationsWorker bootstraps the worker from a baseline seed (read via
// internal/locseed before this call).
func NewLocationsWorker(rt *Runtime, seed []model.Location) *LocationsWorker {
	known := make(map[uint64]model.Location, len(seed))
	order := make([]uint64, 0, len(seed))
	for _, l := range seed {
		known[l.ID] = l
		order = append(order, l.ID)
	}
	return &LocationsWorker{rt: rt, known: known, order: order, forbidden: make(map[uint64]bool)}
}

// Run drives the Locations worker loop until ctx is cancelled.
func (w *LocationsWorker) Run(ctx context.Context) error {
	for {
		batch, err := w.rt.locationFanout.Pop(ctx, 0)
		if err != nil {
			return err
		}

		added := 0
		for _, id := range batch {
			if _, ok := w.known[id]; ok {
				continue
			}
			if w.forbidden[id] {
				continue
			}
			loc, err := w.fetchOne(ctx, id)
			if err != nil {
				if esierr.Is(err, esierr.UpstreamRejected) {
					w.forbidden[id] = true
				} else {
					logger.Warn("locations", fmt.Sprintf("fetch %d: %v", id, err))
				}
				continue
			}
			w.known[id] = loc
			w.order = append(w.order, id)
			added++
		}

		if added > 0 {
			if err := w.emitDump(); err != nil {
				return fmt.Errorf("locations: emit dump: %w", err)
			}
			logger.Stats("locations.added", added)
		}
	}
}

func (w *LocationsWorker) fetchOne(ctx context.Context, id uint64) (model.Location, error) {
	uri := fmt.Sprintf("/universe/structures/%d", id)
	res, err := w.rt.Client.Fetch(ctx, http.MethodGet, uri, nil, true, 1)
	if err != nil {
		return model.Location{}, err
	}

	var raw rawStructure
	if err := json.Unmarshal(res.Body, &raw); err != nil {
		return model.Location{}, esierr.Wrap(esierr.Parse, uri, err)
	}

	return model.Location{
		ID:       id,
		TypeID:   raw.TypeID,
		OwnerID:  raw.OwnerID,
		SystemID: raw.SolarSystemID,
		Security: w.rt.Universe.Security(raw.SolarSystemID),
		Name:     raw.Name,
	}, nil
}

func (w *LocationsWorker) emitDump() error {
	locs := make([]model.Location, 0, len(w.order))
	for _, id := range w.order {
		locs = append(locs, w.known[id])
	}
	path := w.rt.dumpPath(fmt.Sprintf("loc-%d.dump", time.Now().Unix()))
	wr, err := dump.OpenWrite(w.rt.Registry, path, dump.KindLocations, 0, false)
	if err != nil {
		return err
	}
	if err := model.WriteLocationCollection(wr, locs); err != nil {
		wr.Abort()
		return err
	}
	return wr.Close()
}
