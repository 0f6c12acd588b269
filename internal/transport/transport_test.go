package transport

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFrameDecoderRoundTrip is Testable Property 1: for any byte sequence
// split into arbitrary chunks, the concatenation of emitted frame payloads
// equals the original concatenation of frame inputs.
func TestFrameDecoderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var original [][]byte
	var wire []byte
	for i := 0; i < 50; i++ {
		payload := make([]byte, rng.Intn(500))
		rng.Read(payload)
		original = append(original, payload)
		wire = append(wire, EncodeOutboundFrame(payload)...)
	}

	// Split wire into arbitrary chunks.
	var chunks [][]byte
	for len(wire) > 0 {
		n := 1 + rng.Intn(37)
		if n > len(wire) {
			n = len(wire)
		}
		chunks = append(chunks, wire[:n])
		wire = wire[n:]
	}

	var dec FrameDecoder
	var got [][]byte
	for _, c := range chunks {
		frames, err := dec.Feed(c)
		require.NoError(t, err)
		got = append(got, frames...)
	}

	require.Equal(t, len(original), len(got))
	for i := range original {
		require.True(t, bytes.Equal(original[i], got[i]), "frame %d mismatch", i)
	}
}

func TestFrameDecoderWaitsForCompleteFrame(t *testing.T) {
	var dec FrameDecoder
	full := EncodeOutboundFrame([]byte("hello world"))

	frames, err := dec.Feed(full[:5])
	require.NoError(t, err)
	require.Empty(t, frames)

	frames, err = dec.Feed(full[5:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, []byte("hello world"), frames[0])
}

func TestFrameDecoderSingleByteChunks(t *testing.T) {
	var dec FrameDecoder
	full := EncodeOutboundFrame([]byte("x"))

	var got [][]byte
	for _, b := range full {
		frames, err := dec.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, frames...)
	}
	require.Len(t, got, 1)
	require.Equal(t, []byte("x"), got[0])
}
