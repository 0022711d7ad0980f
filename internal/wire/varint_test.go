package wire

import (
	"math"
	"testing"
)

func TestVarUintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, 1 << 40, math.MaxUint32, math.MaxUint64}

	for _, n := range cases {
		buf := WriteVarUint(nil, n)
		got, consumed, err := ReadVarUint(buf)
		if err != nil {
			t.Fatalf("ReadVarUint(%d): %v", n, err)
		}
		if got != n {
			t.Errorf("ReadVarUint roundtrip: want %d, got %d", n, got)
		}
		if consumed != len(buf) {
			t.Errorf("consumed = %d, want %d (len of written buf)", consumed, len(buf))
		}
	}
}

func TestReadVarUintTruncated(t *testing.T) {
	// A byte with the continuation bit set but nothing following.
	_, _, err := ReadVarUint([]byte{0x80})
	if err != ErrTruncated {
		t.Fatalf("want ErrTruncated, got %v", err)
	}

	_, _, err = ReadVarUint(nil)
	if err != ErrTruncated {
		t.Fatalf("want ErrTruncated on empty input, got %v", err)
	}
}

func TestVarByteArrayRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		[]byte("hello"),
		make([]byte, 1000),
	}

	for _, p := range payloads {
		buf := WriteVarByteArray(nil, p)
		got, consumed, err := ReadVarByteArray(buf)
		if err != nil {
			t.Fatalf("ReadVarByteArray: %v", err)
		}
		if len(got) != len(p) {
			t.Errorf("length mismatch: want %d, got %d", len(p), len(got))
		}
		if consumed != len(buf) {
			t.Errorf("consumed = %d, want %d", consumed, len(buf))
		}
	}
}

func TestReadVarByteArrayTruncated(t *testing.T) {
	// Declares a length of 10 but supplies none.
	buf := WriteVarUint(nil, 10)
	_, _, err := ReadVarByteArray(buf)
	if err != ErrTruncated {
		t.Fatalf("want ErrTruncated, got %v", err)
	}
}
