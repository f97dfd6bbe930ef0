package model

import (
	"fmt"
	"io"

	"eve-hoarder/internal/dump"
)

// HistoryBit is one (date, region, type) statistics row. Consumed by value;
// a day's dump groups bits for a single date.
type HistoryBit struct {
	Date       Date
	RegionID   uint64
	TypeID     uint64
	Average    float64
	Highest    float64
	Lowest     float64
	OrderCount uint64
	Volume     uint64
}

// Key returns the market this bit belongs to.
func (h HistoryBit) Key() MarketKey {
	return MarketKey{RegionID: h.RegionID, TypeID: h.TypeID}
}

// WriteTo encodes a HistoryBit as: date (u16 year, u16 day), region u64,
// type u64, average/highest/lowest f64, order_count u64, volume u64.
func (h HistoryBit) WriteTo(w *dump.Writer) error {
	if err := w.WriteUint16(h.Date.Year); err != nil {
		return err
	}
	if err := w.WriteUint16(h.Date.Day); err != nil {
		return err
	}
	if err := w.WriteUint64(h.RegionID); err != nil {
		return err
	}
	if err := w.WriteUint64(h.TypeID); err != nil {
		return err
	}
	if err := w.WriteFloat64(h.Average); err != nil {
		return err
	}
	if err := w.WriteFloat64(h.Highest); err != nil {
		return err
	}
	if err := w.WriteFloat64(h.Lowest); err != nil {
		return err
	}
	if err := w.WriteUint64(h.OrderCount); err != nil {
		return err
	}
	return w.WriteUint64(h.Volume)
}

// ReadHistoryBit decodes a single HistoryBit from a dump body. A clean EOF
// at the start of a record is surfaced via dump.ErrEOF; a short read partway
// through a record is corruption.
func ReadHistoryBit(r *dump.Reader) (h HistoryBit, err error) {
	if h.Date.Year, err = r.ReadUint16(); err != nil {
		return h, err
	}
	defer func() {
		if isEOF(err) {
			err = fmt.Errorf("model: history bit truncated: %w", io.ErrUnexpectedEOF)
		}
	}()
	if h.Date.Day, err = r.ReadUint16(); err != nil {
		return h, err
	}
	if h.RegionID, err = r.ReadUint64(); err != nil {
		return h, err
	}
	if h.TypeID, err = r.ReadUint64(); err != nil {
		return h, err
	}
	if h.Average, err = r.ReadFloat64(); err != nil {
		return h, err
	}
	if h.Highest, err = r.ReadFloat64(); err != nil {
		return h, err
	}
	if h.Lowest, err = r.ReadFloat64(); err != nil {
		return h, err
	}
	if h.OrderCount, err = r.ReadUint64(); err != nil {
		return h, err
	}
	if h.Volume, err = r.ReadUint64(); err != nil {
		return h, err
	}
	return h, nil
}

// WriteHistoryDay writes a sequence of bits with no leading count, so a
// backfill replay can scan it in a chunked stream rather than loading it
// all at once.
func WriteHistoryDay(w *dump.Writer, bits []HistoryBit) error {
	for _, b := range bits {
		if err := b.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadHistoryDay reads bits until EOF.
func ReadHistoryDay(r *dump.Reader) ([]HistoryBit, error) {
	var out []HistoryBit
	for {
		b, err := ReadHistoryBit(r)
		if err != nil {
			if isEOF(err) {
				return out, nil
			}
			return out, err
		}
		out = append(out, b)
	}
}

// ReadHistoryDayChunked invokes fn with up to chunkSize bits at a time,
// scanning the snapshot in fixed-size chunks so a multi-day snapshot is
// never held fully in memory.
func ReadHistoryDayChunked(r *dump.Reader, chunkSize int, fn func([]HistoryBit) error) error {
	buf := make([]HistoryBit, 0, chunkSize)
	for {
		b, err := ReadHistoryBit(r)
		if err != nil {
			if isEOF(err) {
				break
			}
			return err
		}
		buf = append(buf, b)
		if len(buf) >= chunkSize {
			if err := fn(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		return fn(buf)
	}
	return nil
}
