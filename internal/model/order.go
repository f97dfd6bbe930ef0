// Package model holds the data types exchanged between the hoarder workers
// and written into dumps: Order, Location, HistoryBit, their composite keys,
// and the ordinal Date type. Field lists are grounded on
// original_source/emd/src/orders.c, locations.c, and histories.c.
package model

import "eve-hoarder/internal/dump"

// Range encodes an order's visibility radius: -2 station, -1 solar system,
// 0 region, or a jump count in {1,2,3,4,5,10,20,30,40}.
type Range int8

const (
	RangeStation     Range = -2
	RangeSolarSystem Range = -1
	RangeRegion      Range = 0
)

// Order is a single market offer. Immutable once parsed; the Orders worker
// rewrites its in-memory vector wholesale every tick.
type Order struct {
	OrderID      uint64
	TypeID       uint64
	RegionID     uint64
	SystemID     uint64
	LocationID   uint64
	Price        float64
	VolumeRemain uint64
	VolumeTotal  uint64
	MinVolume    uint64
	Duration     uint32
	Issued       uint64 // epoch seconds
	Range        Range
	IsBuyOrder   bool
}

// WriteTo encodes an Order into a dump body.
func (o Order) WriteTo(w *dump.Writer) error {
	for _, step := range []func() error{
		func() error { return w.WriteUint64(o.OrderID) },
		func() error { return w.WriteUint64(o.TypeID) },
		func() error { return w.WriteUint64(o.RegionID) },
		func() error { return w.WriteUint64(o.SystemID) },
		func() error { return w.WriteUint64(o.LocationID) },
		func() error { return w.WriteFloat64(o.Price) },
		func() error { return w.WriteUint64(o.VolumeRemain) },
		func() error { return w.WriteUint64(o.VolumeTotal) },
		func() error { return w.WriteUint64(o.MinVolume) },
		func() error { return w.WriteUint32(o.Duration) },
		func() error { return w.WriteUint64(o.Issued) },
		func() error { return w.WriteInt8(int8(o.Range)) },
		func() error { return w.WriteBool(o.IsBuyOrder) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// ReadOrder decodes a single Order from a dump body.
func ReadOrder(r *dump.Reader) (Order, error) {
	var o Order
	var err error

	if o.OrderID, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.TypeID, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.RegionID, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.SystemID, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.LocationID, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.Price, err = r.ReadFloat64(); err != nil {
		return o, err
	}
	if o.VolumeRemain, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.VolumeTotal, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.MinVolume, err = r.ReadUint64(); err != nil {
		return o, err
	}
	if o.Duration, err = r.ReadUint32(); err != nil {
		return o, err
	}
	if o.Issued, err = r.ReadUint64(); err != nil {
		return o, err
	}
	rng, err := r.ReadInt8()
	if err != nil {
		return o, err
	}
	o.Range = Range(rng)
	if o.IsBuyOrder, err = r.ReadBool(); err != nil {
		return o, err
	}
	return o, nil
}

// WriteOrderTable writes a u64 count followed by each order, in insertion
// order. A zero count is a valid, well-formed table.
func WriteOrderTable(w *dump.Writer, orders []Order) error {
	if err := w.WriteUint64(uint64(len(orders))); err != nil {
		return err
	}
	for _, o := range orders {
		if err := o.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadOrderTable reads back a table written by WriteOrderTable.
func ReadOrderTable(r *dump.Reader) ([]Order, error) {
	count, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0, count)
	for i := uint64(0); i < count; i++ {
		o, err := ReadOrder(r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// DistinctLocationIDs returns the set of location IDs referenced by orders,
// preserving first-appearance order.
func DistinctLocationIDs(orders []Order) []uint64 {
	seen := make(map[uint64]bool, len(orders))
	out := make([]uint64, 0, len(orders))
	for _, o := range orders {
		if !seen[o.LocationID] {
			seen[o.LocationID] = true
			out = append(out, o.LocationID)
		}
	}
	return out
}

// ActiveMarkets returns the distinct (region_id, type_id) pairs present in
// orders.
func ActiveMarkets(orders []Order) []MarketKey {
	seen := make(map[MarketKey]bool, len(orders))
	out := make([]MarketKey, 0, len(orders))
	for _, o := range orders {
		k := MarketKey{RegionID: o.RegionID, TypeID: o.TypeID}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
