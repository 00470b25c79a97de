package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SampleRate is the native rate for capture, playback and export.
	SampleRate = 24000
	// FrameSize is the outbound wire frame in bytes (2400 samples).
	FrameSize = 4800
	// FrameSamples is FrameSize expressed in int16 samples.
	FrameSamples = FrameSize / 2
)

// ErrMalformedWireData reports a wire payload that is not valid PCM16LE base64.
var ErrMalformedWireData = errors.New("malformed wire data")

// EncodeToWire returns the base64 text of the little-endian bytes of samples.
func EncodeToWire(samples []int16) string {
	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples))
}

// EncodeBytesToWire returns the base64 text of an already-raw PCM frame.
func EncodeBytesToWire(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

// DecodeFromWire decodes base64 text into little-endian int16 samples.
func DecodeFromWire(text string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWireData, err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedWireData, len(raw))
	}
	return BytesToSamples(raw), nil
}

// SamplesToBytes converts int16 samples to PCM16LE bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples reinterprets PCM16LE bytes as int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Normalize maps samples into [-1, 1) as s/32768.
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FloatToPCM16 clamps f to [-1, 1] and scales negative values by 32768 and
// non-negative values by 32767, truncating toward zero. The asymmetric scale
// matches clips produced by the browser client byte for byte.
func FloatToPCM16(f float32) int16 {
	s := float64(f)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

func flatten(chunks [][]int16) []int16 {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]int16, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
