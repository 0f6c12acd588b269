// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package wacore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// frame compression flag bits.
const flagCompressed = 0x02

// EncodeFrame wraps a node's encoded bytes with the leading flag byte the
// post-handshake frame format requires, deflating the payload when
// compress is true and sending it raw otherwise.
func EncodeFrame(nodeBytes []byte, compress bool) ([]byte, error) {
	if !compress {
		return append([]byte{0x00}, nodeBytes...), nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(nodeBytes); err != nil {
		return nil, fmt.Errorf("wacore: deflate frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("wacore: deflate frame: %w", err)
	}

	out := make([]byte, 1+buf.Len())
	out[0] = flagCompressed
	copy(out[1:], buf.Bytes())
	return out, nil
}

// DecodeFrame strips the leading flag byte and inflates the payload if the
// compression bit is set.
func DecodeFrame(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("wacore: empty frame")
	}
	flag, payload := framed[0], framed[1:]
	if flag&flagCompressed == 0 {
		return payload, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("wacore: inflate frame: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wacore: inflate frame: %w", err)
	}
	return out, nil
}
