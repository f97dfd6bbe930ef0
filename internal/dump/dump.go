// Package dump implements a crash-safe, checksum-protected binary snapshot
// file format.
//
// Layout (all multi-byte fields big-endian):
//
//	offset 0   version   u8   (=1)
//	offset 1   type tag  u8   (locations=0, orders=1, histories=2, internal=3)
//	offset 2   checksum  u32  (CRC-32 of the body, finalized on Close)
//	offset 6   expires   u64  (epoch seconds; documented but unconsumed)
//	offset 14  magic     [32]byte
//	offset 46  body      n bytes
package dump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
)

const (
	// Version is the only header version this package writes or reads.
	Version uint8 = 1

	headerSize  = 46
	magicSize   = 32
	checksumOff = 2
)

// magic is the fixed 32-byte identifier stamped into every header.
var magic = [magicSize]byte{'e', 'v', 'e', '-', 'h', 'o', 'a', 'r', 'd', 'e', 'r', '-', 'd', 'u', 'm', 'p'}

// Kind is the dump type tag (offset 1 of the header).
type Kind uint8

const (
	KindLocations Kind = 0
	KindOrders    Kind = 1
	KindHistories Kind = 2
	KindInternal  Kind = 3
)

// ErrAlreadyExists is returned by OpenWrite when the target path exists and
// the caller asked not to overwrite it.
var ErrAlreadyExists = errors.New("dump: file already exists")

// Header is the parsed fixed-size prefix of a dump file.
type Header struct {
	Version    uint8
	Kind       Kind
	Checksum   uint32
	Expiration uint64
}

// Writer streams a dump body, maintaining a running CRC-32 and finalizing it
// into the header on Close.
type Writer struct {
	f        *os.File
	path     string
	crc      uint32
	registry *Registry
	closed   bool
}

// OpenWrite creates path with a zeroed checksum and the given kind/expiration,
// registers it in reg for crash-safety, and returns a Writer positioned to
// stream the body. If noClobber is true and path already exists, returns
// ErrAlreadyExists without truncating the existing file.
func OpenWrite(reg *Registry, path string, kind Kind, expiration uint64, noClobber bool) (*Writer, error) {
	if noClobber {
		if _, err := os.Stat(path); err == nil {
			return nil, ErrAlreadyExists
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("dump: stat %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}

	w := &Writer{f: f, path: path, registry: reg}
	if err := w.writeHeader(kind, expiration); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	if reg != nil {
		if err := reg.push(f, path); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	}

	return w, nil
}

func (w *Writer) writeHeader(kind Kind, expiration uint64) error {
	var hdr [headerSize]byte
	hdr[0] = Version
	hdr[1] = byte(kind)
	binary.BigEndian.PutUint32(hdr[checksumOff:], 0)
	binary.BigEndian.PutUint64(hdr[6:], expiration)
	copy(hdr[14:14+magicSize], magic[:])
	_, err := w.f.Write(hdr[:])
	return err
}

func (w *Writer) write(p []byte) error {
	if _, err := w.f.Write(p); err != nil {
		return fmt.Errorf("dump: write body: %w", err)
	}
	w.crc = crc32.Update(w.crc, crc32.IEEETable, p)
	return nil
}

// WriteUint8 writes a single unsigned byte.
func (w *Writer) WriteUint8(v uint8) error { return w.write([]byte{v}) }

// WriteUint16 writes a big-endian u16.
func (w *Writer) WriteUint16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

// WriteUint32 writes a big-endian u32.
func (w *Writer) WriteUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

// WriteUint64 writes a big-endian u64.
func (w *Writer) WriteUint64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.write(b[:])
}

// WriteInt8 writes a signed byte (e.g. Order.Range).
func (w *Writer) WriteInt8(v int8) error { return w.WriteUint8(uint8(v)) }

// WriteFloat32 writes v as its IEEE-754 bit pattern, big-endian.
func (w *Writer) WriteFloat32(v float32) error { return w.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 writes v as its IEEE-754 bit pattern, big-endian.
func (w *Writer) WriteFloat64(v float64) error { return w.WriteUint64(math.Float64bits(v)) }

// WriteBool writes a single byte, 1 for true.
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteUint8(1)
	}
	return w.WriteUint8(0)
}

// WriteString writes a u64 length prefix followed by the raw bytes.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteUint64(uint64(len(s))); err != nil {
		return err
	}
	return w.write([]byte(s))
}

// Close finalizes the checksum into the header and closes the file. On
// success it deregisters the file from the registry: the dump is now
// published and no longer needs burning on a fatal exit.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], w.crc)
	if _, err := w.f.WriteAt(crcBytes[:], checksumOff); err != nil {
		w.f.Close()
		return fmt.Errorf("dump: finalize checksum: %w", err)
	}

	if w.registry != nil {
		w.registry.pop(w.f)
	}
	return w.f.Close()
}

// Abort closes and unlinks the file without finalizing the checksum,
// leaving no trace of a partial dump. Used by callers that decide not to
// publish a dump after starting to write it.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.registry != nil {
		w.registry.pop(w.f)
	}
	w.f.Close()
	return os.Remove(w.path)
}

// Reader streams a dump body starting at byte offset 46.
type Reader struct {
	f   *os.File
	Hdr Header
}

// OpenRead opens path, parses and validates the header, and positions the
// reader at the start of the body.
func OpenRead(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump: open %s: %w", path, err)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("dump: read header %s: %w", path, err)
	}
	if hdr[0] != Version {
		f.Close()
		return nil, fmt.Errorf("dump: %s: unsupported version %d", path, hdr[0])
	}

	r := &Reader{
		f: f,
		Hdr: Header{
			Version:    hdr[0],
			Kind:       Kind(hdr[1]),
			Checksum:   binary.BigEndian.Uint32(hdr[checksumOff:]),
			Expiration: binary.BigEndian.Uint64(hdr[6:]),
		},
	}
	return r, nil
}

// ErrEOF is returned by a Read* call that hits end-of-file exactly at a
// record boundary; it is distinguished from a mid-record short read, which
// surfaces as a wrapped io.ErrUnexpectedEOF (data corruption).
var ErrEOF = io.EOF

func (r *Reader) read(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(r.f, b)
	if err == io.EOF {
		return nil, ErrEOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("dump: corrupt record (short read): %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("dump: read body: %w", err)
	}
	return b, nil
}

// ReadUint8 reads a single unsigned byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a big-endian u16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian u32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads a big-endian u64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadInt8 reads a signed byte.
func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadFloat32 reads a big-endian-encoded IEEE-754 float32.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a big-endian-encoded IEEE-754 float64.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadBool reads a single byte, non-zero meaning true.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadString reads a u64 length prefix followed by that many raw bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return "", err
	}
	b, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// VerifyChecksum recomputes the body CRC-32 from path and compares it
// against the header's claimed value, for consumer-side integrity checks.
// It does not disturb any open Reader on the same path.
func VerifyChecksum(path string) (ok bool, claimed, actual uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, 0, 0, err
	}
	defer f.Close()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return false, 0, 0, fmt.Errorf("dump: read header: %w", err)
	}
	claimed = binary.BigEndian.Uint32(hdr[checksumOff:])

	body, err := io.ReadAll(f)
	if err != nil {
		return false, claimed, 0, fmt.Errorf("dump: read body: %w", err)
	}
	actual = crc32.ChecksumIEEE(body)
	return actual == claimed, claimed, actual, nil
}
