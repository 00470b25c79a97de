package audio

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
)

func TestWireRoundTrip(t *testing.T) {
	cases := [][]int16{
		nil,
		{0},
		{1, -1, 2, -2},
		{math.MaxInt16, math.MinInt16, 0, 12345, -12345},
	}
	for _, samples := range cases {
		got, err := DecodeFromWire(EncodeToWire(samples))
		if err != nil {
			t.Fatalf("DecodeFromWire() error = %v", err)
		}
		if len(got) != len(samples) {
			t.Fatalf("len = %d, want %d", len(got), len(samples))
		}
		for i := range samples {
			if got[i] != samples[i] {
				t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
			}
		}
	}
}

func TestEncodeToWireIsLittleEndian(t *testing.T) {
	got := EncodeToWire([]int16{0x0201, -1})
	want := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0xff, 0xff})
	if got != want {
		t.Fatalf("EncodeToWire() = %q, want %q", got, want)
	}
}

func TestDecodeFromWireRejectsOddLength(t *testing.T) {
	text := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := DecodeFromWire(text); !errors.Is(err, ErrMalformedWireData) {
		t.Fatalf("error = %v, want ErrMalformedWireData", err)
	}
}

func TestDecodeFromWireRejectsInvalidBase64(t *testing.T) {
	if _, err := DecodeFromWire("not base64!"); !errors.Is(err, ErrMalformedWireData) {
		t.Fatalf("error = %v, want ErrMalformedWireData", err)
	}
}

func TestFloatToPCM16Asymmetry(t *testing.T) {
	cases := []struct {
		in   int16
		want int16
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{16384, 16383},
		{math.MaxInt16, math.MaxInt16 - 1},
		{-1, -1},
		{-16384, -16384},
		{math.MinInt16, math.MinInt16},
	}
	for _, tc := range cases {
		got := FloatToPCM16(Normalize([]int16{tc.in})[0])
		if got != tc.want {
			t.Fatalf("FloatToPCM16(%d/32768) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFloatToPCM16Clamps(t *testing.T) {
	if got := FloatToPCM16(2); got != math.MaxInt16 {
		t.Fatalf("FloatToPCM16(2) = %d, want %d", got, math.MaxInt16)
	}
	if got := FloatToPCM16(-2); got != math.MinInt16 {
		t.Fatalf("FloatToPCM16(-2) = %d, want %d", got, math.MinInt16)
	}
}

func TestBytesToSamplesIgnoresTrailingByte(t *testing.T) {
	got := BytesToSamples([]byte{1, 0, 9})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("BytesToSamples() = %v, want [1]", got)
	}
}
