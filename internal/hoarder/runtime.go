// Package hoarder wires the leaf packages (esi, auth, dump, fifo, model,
// universe) into three cooperating worker state
// machines: Orders, Locations, and Histories. A single Runtime struct
// carries every shared singleton so no worker reaches for package-level
// global state.
package hoarder

import (
	"path/filepath"

	"eve-hoarder/internal/auth"
	"eve-hoarder/internal/dump"
	"eve-hoarder/internal/esi"
	"eve-hoarder/internal/fifo"
	"eve-hoarder/internal/model"
	"eve-hoarder/internal/universe"
)

// LocationBatch is the set of distinct location IDs an Orders sweep
// discovered, handed across the orders->locations FIFO.
type LocationBatch []uint64

// activeMarketsRequest is an empty signal value: its presence on the
// request FIFO means "a response is wanted."
type activeMarketsRequest struct{}

// fifoCapacity bounds every inter-worker queue. 4 gives the Orders worker
// a few ticks of slack before the 15s push-timeout drop behavior kicks in.
const fifoCapacity = 4

// Runtime holds every singleton the three workers share.
type Runtime struct {
	Client   *esi.Client
	Tokens   *auth.TokenCache
	Registry *dump.Registry
	Universe *universe.Table
	DumpDir  string

	locationFanout  *fifo.FIFO[LocationBatch]
	marketsRequest  *fifo.FIFO[activeMarketsRequest]
	marketsResponse *fifo.FIFO[[]model.MarketKey]
}

// NewRuntime constructs a Runtime with fresh inter-worker FIFOs. client,
// tokens, reg, and uni are all process-wide singletons built once at
// startup in cmd/hoarder and handed in here.
func NewRuntime(client *esi.Client, tokens *auth.TokenCache, reg *dump.Registry, uni *universe.Table, dumpDir string) *Runtime {
	return &Runtime{
		Client:          client,
		Tokens:          tokens,
		Registry:        reg,
		Universe:        uni,
		DumpDir:         dumpDir,
		locationFanout:  fifo.New[LocationBatch](fifoCapacity),
		marketsRequest:  fifo.New[activeMarketsRequest](1),
		marketsResponse: fifo.New[[]model.MarketKey](1),
	}
}

func (rt *Runtime) dumpPath(name string) string {
	return filepath.Join(rt.DumpDir, name)
}
