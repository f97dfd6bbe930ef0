package model

import (
	"fmt"
	"io"

	"eve-hoarder/internal/dump"
)

// Location is structure/station metadata. Added to the Locations worker's
// vector on first discovery; never modified, never evicted.
type Location struct {
	ID       uint64
	TypeID   uint64
	OwnerID  uint64
	SystemID uint64
	Security float32 // joined from the embedded system-security table
	Name     string
}

// WriteTo encodes a Location as: id, type_id, owner_id, system_id as u64,
// security as f32, name length-prefixed.
func (l Location) WriteTo(w *dump.Writer) error {
	if err := w.WriteUint64(l.ID); err != nil {
		return err
	}
	if err := w.WriteUint64(l.TypeID); err != nil {
		return err
	}
	if err := w.WriteUint64(l.OwnerID); err != nil {
		return err
	}
	if err := w.WriteUint64(l.SystemID); err != nil {
		return err
	}
	if err := w.WriteFloat32(l.Security); err != nil {
		return err
	}
	return w.WriteString(l.Name)
}

// ReadLocation decodes a single Location from a dump body. A clean EOF at
// the start of a record is surfaced via dump.ErrEOF; a short read partway
// through a record is corruption.
func ReadLocation(r *dump.Reader) (l Location, err error) {
	if l.ID, err = r.ReadUint64(); err != nil {
		return l, err
	}
	defer func() {
		if isEOF(err) {
			err = fmt.Errorf("model: location truncated: %w", io.ErrUnexpectedEOF)
		}
	}()
	if l.TypeID, err = r.ReadUint64(); err != nil {
		return l, err
	}
	if l.OwnerID, err = r.ReadUint64(); err != nil {
		return l, err
	}
	if l.SystemID, err = r.ReadUint64(); err != nil {
		return l, err
	}
	if l.Security, err = r.ReadFloat32(); err != nil {
		return l, err
	}
	if l.Name, err = r.ReadString(); err != nil {
		return l, err
	}
	return l, nil
}

// WriteLocationCollection writes each location sequentially with no
// leading count.
func WriteLocationCollection(w *dump.Writer, locs []Location) error {
	for _, l := range locs {
		if err := l.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadLocationCollection reads locations until EOF.
func ReadLocationCollection(r *dump.Reader) ([]Location, error) {
	var out []Location
	for {
		l, err := ReadLocation(r)
		if err != nil {
			if isEOF(err) {
				return out, nil
			}
			return out, err
		}
		out = append(out, l)
	}
}
