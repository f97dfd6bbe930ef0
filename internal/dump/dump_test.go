package dump

import (
	"os"
	"path/filepath"
	"testing"
)

// TestRoundTrip exercises writing a value to a dump and reading it back
// yields an equal value, including header parsing.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.dump")

	w, err := OpenWrite(NewRegistry(), path, KindOrders, 12345, false)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if err := w.WriteUint64(42); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFloat64(3.14159); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteString("jita-4-4"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInt8(-2); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenRead(path)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer r.Close()

	if r.Hdr.Version != Version || r.Hdr.Kind != KindOrders || r.Hdr.Expiration != 12345 {
		t.Fatalf("header = %+v", r.Hdr)
	}

	u, err := r.ReadUint64()
	if err != nil || u != 42 {
		t.Fatalf("ReadUint64 = %v, %v", u, err)
	}
	f, err := r.ReadFloat64()
	if err != nil || f != 3.14159 {
		t.Fatalf("ReadFloat64 = %v, %v", f, err)
	}
	s, err := r.ReadString()
	if err != nil || s != "jita-4-4" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	i8, err := r.ReadInt8()
	if err != nil || i8 != -2 {
		t.Fatalf("ReadInt8 = %v, %v", i8, err)
	}
	b, err := r.ReadBool()
	if err != nil || !b {
		t.Fatalf("ReadBool = %v, %v", b, err)
	}

	ok, claimed, actual, err := VerifyChecksum(path)
	if err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
	if !ok || claimed != actual {
		t.Fatalf("checksum mismatch: claimed=%d actual=%d", claimed, actual)
	}
}

// TestRegistryBurn exercises that after OpenWrite without Close, the
// registry contains the entry; after Burn, the file is unlinked and no
// entry remains.
func TestRegistryBurn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crash.dump")
	reg := NewRegistry()

	w, err := OpenWrite(reg, path, KindInternal, 0, false)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	if err := w.WriteUint8(1); err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 1 {
		t.Fatalf("registry len before burn = %d, want 1", reg.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dump file missing before burn: %v", err)
	}

	reg.Burn()

	if reg.Len() != 0 {
		t.Fatalf("registry len after burn = %d, want 0", reg.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("dump file should be unlinked after burn, stat err = %v", err)
	}
}

// TestNoClobber exercises that writing over an existing dump path is
// refused and the existing file is left untouched.
func TestNoClobber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history-day-2026-042.dump")
	reg := NewRegistry()

	w1, err := OpenWrite(reg, path, KindHistories, 0, true)
	if err != nil {
		t.Fatalf("first OpenWrite: %v", err)
	}
	w1.WriteUint64(7)
	if err := w1.Close(); err != nil {
		t.Fatal(err)
	}

	_, claimed1, _, err := VerifyChecksum(path)
	if err != nil {
		t.Fatal(err)
	}

	_, err = OpenWrite(reg, path, KindHistories, 0, true)
	if err != ErrAlreadyExists {
		t.Fatalf("second OpenWrite = %v, want ErrAlreadyExists", err)
	}

	ok, claimed2, _, err := VerifyChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || claimed1 != claimed2 {
		t.Fatalf("existing dump was mutated by the refused write")
	}
}

// TestChecksumDetectsCorruption exercises that flipping one byte in the
// body makes the recomputed CRC disagree with the header's claim.
func TestChecksumDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders-1.dump")

	w, err := OpenWrite(NewRegistry(), path, KindOrders, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteUint64(0)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	ok, _, _, err := VerifyChecksum(path)
	if err != nil || !ok {
		t.Fatalf("expected valid checksum before corruption: ok=%v err=%v", ok, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, headerSize); err != nil {
		t.Fatal(err)
	}
	f.Close()

	ok, claimed, actual, err := VerifyChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok || claimed == actual {
		t.Fatalf("corruption not detected: claimed=%d actual=%d", claimed, actual)
	}
}

// TestEmptyOrdersSweepBody exercises that an orders dump with zero orders
// has a body that is exactly the 8 zero bytes of a u64 count.
func TestEmptyOrdersSweepBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders-0.dump")

	w, err := OpenWrite(NewRegistry(), path, KindOrders, 300, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteUint64(0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := data[headerSize:]
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if len(body) != len(want) {
		t.Fatalf("body len = %d, want %d", len(body), len(want))
	}
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("body = % x, want % x", body, want)
		}
	}
}
