// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package noise

// Manual Protobuf encoder/decoder for HandshakeMessage, adapted from the
// teacher's internal/core/protobuf.go. This avoids a protoc-generated
// dependency while staying wire-compatible with the expected format.
//
// HandshakeMessage structure:
//   - ClientHello:  field 2
//   - ServerHello:  field 3
//   - ClientFinish: field 4

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

const (
	fieldClientHello  = 2
	fieldServerHello  = 3
	fieldClientFinish = 4
)

const (
	fieldEphemeral = 1
	fieldStatic    = 2
	fieldPayload   = 3
)

func encodeVarint(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	var buf []byte
	for n > 0 {
		b := byte(n & 0x7F)
		n >>= 7
		if n > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

func decodeVarint(data []byte) (uint64, int) {
	var n uint64
	var shift uint
	for i, b := range data {
		n |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return n, i + 1
		}
		shift += 7
		if shift >= 64 {
			return 0, 0
		}
	}
	return 0, 0
}

func encodeTag(fieldNum int, wireType int) []byte {
	return encodeVarint(uint64(fieldNum<<3 | wireType))
}

func pbEncodeBytes(fieldNum int, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	tag := encodeTag(fieldNum, wireBytes)
	length := encodeVarint(uint64(len(data)))
	result := make([]byte, 0, len(tag)+len(length)+len(data))
	result = append(result, tag...)
	result = append(result, length...)
	result = append(result, data...)
	return result
}

// EncodeClientHello wraps the ephemeral public key (field 1) in a
// HandshakeMessage.ClientHello (field 2).
func EncodeClientHello(ephemeral []byte) []byte {
	clientHello := pbEncodeBytes(fieldEphemeral, ephemeral)
	return pbEncodeBytes(fieldClientHello, clientHello)
}

// EncodeClientFinish wraps the encrypted static key (field 1) and optional
// encrypted payload (field 2) in a HandshakeMessage.ClientFinish (field 4).
func EncodeClientFinish(static, payload []byte) []byte {
	const finishStatic, finishPayload = 1, 2
	var clientFinish []byte
	clientFinish = append(clientFinish, pbEncodeBytes(finishStatic, static)...)
	if len(payload) > 0 {
		clientFinish = append(clientFinish, pbEncodeBytes(finishPayload, payload)...)
	}
	return pbEncodeBytes(fieldClientFinish, clientFinish)
}

// ServerHelloData holds the parsed fields of HandshakeMessage.ServerHello.
type ServerHelloData struct {
	Ephemeral []byte
	Static    []byte
	Payload   []byte
}

// DecodeServerHello extracts ServerHello (field 3) from a HandshakeMessage
// envelope, falling back to parsing data directly as a bare ServerHello if
// the envelope field isn't found.
func DecodeServerHello(data []byte) (*ServerHelloData, error) {
	result := &ServerHelloData{}

	serverHelloBytes, err := findField(data, fieldServerHello)
	if err != nil {
		serverHelloBytes = data
	}

	if ephemeral, err := findField(serverHelloBytes, fieldEphemeral); err == nil {
		result.Ephemeral = ephemeral
	}
	if static, err := findField(serverHelloBytes, fieldStatic); err == nil {
		result.Static = static
	}
	if payload, err := findField(serverHelloBytes, fieldPayload); err == nil {
		result.Payload = payload
	}

	if len(result.Ephemeral) == 0 {
		return nil, ErrFieldNotFound
	}

	return result, nil
}

func findField(data []byte, targetField int) ([]byte, error) {
	pos := 0
	for pos < len(data) {
		tag, n := decodeVarint(data[pos:])
		if n == 0 {
			break
		}
		pos += n

		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x7)

		switch wireType {
		case wireVarint:
			_, n := decodeVarint(data[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n

		case wireFixed64:
			pos += 8

		case wireFixed32:
			pos += 4

		case wireBytes:
			length, n := decodeVarint(data[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n

			if pos+int(length) > len(data) {
				return nil, ErrInvalidProtobuf
			}

			if fieldNum == targetField {
				return data[pos : pos+int(length)], nil
			}
			pos += int(length)

		default:
			return nil, ErrInvalidProtobuf
		}
	}

	return nil, ErrFieldNotFound
}

// ProtobufError reports a malformed handshake message.
type ProtobufError struct{ Message string }

func (e *ProtobufError) Error() string { return e.Message }

var (
	ErrInvalidProtobuf = &ProtobufError{Message: "invalid protobuf data"}
	ErrFieldNotFound   = &ProtobufError{Message: "field not found"}
)
