package core

import "testing"

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutByte(0x2a)
	w.PutVarint(300)
	w.PutUint32LE(0xDEADBEEF)
	w.PutUint64LE(0x0102030405060708)
	w.PutBytes([]byte("hello"))
	var h Hash
	h[0], h[31] = 1, 2
	w.PutHash(h)

	r := NewReader(w.Bytes())

	b, err := r.GetByte()
	if err != nil || b != 0x2a {
		t.Fatalf("GetByte: got (%d, %v)", b, err)
	}
	v, err := r.GetVarint()
	if err != nil || v != 300 {
		t.Fatalf("GetVarint: got (%d, %v)", v, err)
	}
	u32, err := r.GetUint32LE()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("GetUint32LE: got (%#x, %v)", u32, err)
	}
	u64, err := r.GetUint64LE()
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("GetUint64LE: got (%#x, %v)", u64, err)
	}
	s, err := r.GetBytes()
	if err != nil || string(s) != "hello" {
		t.Fatalf("GetBytes: got (%q, %v)", s, err)
	}
	gotHash, err := r.GetHash()
	if err != nil || gotHash != h {
		t.Fatalf("GetHash: got (%v, %v)", gotHash, err)
	}
	if err := DecodeFull(r); err != nil {
		t.Fatalf("DecodeFull: expected fully consumed reader, got %v", err)
	}
}

func TestGetByteReportsTruncatedNotPanic(t *testing.T) {
	r := NewReader(nil)
	if _, err := r.GetByte(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated reading an empty buffer, got %v", err)
	}
}

func TestGetBytesReportsTruncatedOnShortPayload(t *testing.T) {
	w := NewWriter()
	w.PutVarint(10)
	w.PutRaw([]byte("short"))
	r := NewReader(w.Bytes())
	if _, err := r.GetBytes(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated when the declared length exceeds the buffer, got %v", err)
	}
}

func TestGetVarintReportsOverlong(t *testing.T) {
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = 0x80
	}
	r := NewReader(buf)
	if _, err := r.GetVarint(); err != ErrOverlongVarint {
		t.Fatalf("expected ErrOverlongVarint for a 10-byte continuation run, got %v", err)
	}
}

func TestDecodeFullRejectsTrailingBytes(t *testing.T) {
	w := NewWriter()
	w.PutByte(1)
	w.PutByte(2)
	r := NewReader(w.Bytes())
	if _, err := r.GetByte(); err != nil {
		t.Fatalf("GetByte: %v", err)
	}
	if err := DecodeFull(r); err == nil {
		t.Fatal("expected DecodeFull to reject an unconsumed trailing byte")
	}
}

func TestVarintRoundTripsAcrossEncodingBoundaries(t *testing.T) {
	values := []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 1 << 35, ^uint64(0)}
	for _, v := range values {
		w := NewWriter()
		w.PutVarint(v)
		r := NewReader(w.Bytes())
		got, err := r.GetVarint()
		if err != nil {
			t.Fatalf("GetVarint(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("varint round trip mismatch: put %d, got %d", v, got)
		}
	}
}
