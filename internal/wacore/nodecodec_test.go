package wacore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeCodecRoundTrip_Simple(t *testing.T) {
	n := NewNode("iq", map[string]Attr{
		"type": String("get"),
		"id":   String("a1b2c3d4e5f60718"),
		"to":   JidAttr(NewPrimaryJid("1234567890", ServerWhatsApp)),
	})
	n.Content = []*Node{
		NewNode("query", map[string]Attr{"xmlns": String("urn:xmpp:ping")}),
	}

	encoded := EncodeNode(n)
	decoded, err := DecodeNode(encoded)
	require.NoError(t, err)
	require.True(t, n.Equal(decoded), "round-trip mismatch: got %+v", decoded)
}

func TestNodeCodecRoundTrip_CompanionJid(t *testing.T) {
	n := NewNode("usync", map[string]Attr{
		"target": JidAttr(Jid{Server: ServerCompanion}),
	})
	encoded := EncodeNode(n)
	decoded, err := DecodeNode(encoded)
	require.NoError(t, err)
	require.True(t, n.Equal(decoded))
}

func TestNodeCodecRoundTrip_BinaryContent(t *testing.T) {
	payload := make([]byte, 600)
	rand.New(rand.NewSource(7)).Read(payload)

	n := NewNode("enc", map[string]Attr{"type": String("pkmsg"), "v": Int(2)})
	n.Content = payload

	encoded := EncodeNode(n)
	decoded, err := DecodeNode(encoded)
	require.NoError(t, err)
	require.Equal(t, n.Tag, decoded.Tag)
	require.Equal(t, payload, decoded.Bytes())
}

func TestNodeCodecRoundTrip_DeviceJidAttr(t *testing.T) {
	dj, err := NewDeviceJid("1234567890", 3, ServerWhatsApp)
	require.NoError(t, err)

	n := NewNode("to", map[string]Attr{"jid": JidAttr(dj)})
	encoded := EncodeNode(n)
	decoded, err := DecodeNode(encoded)
	require.NoError(t, err)
	require.True(t, n.Equal(decoded))
}

func TestNodeCodecRoundTrip_NestedChildren(t *testing.T) {
	root := NewNode("message", map[string]Attr{
		"id":   String("ABCD1234"),
		"from": JidAttr(NewPrimaryJid("111", ServerWhatsApp)),
	})
	root.Content = []*Node{
		{Tag: "enc", Attrs: map[string]Attr{"type": String("msg"), "v": String("2")}, Content: []byte("ciphertext-bytes")},
		{Tag: "device-identity", Attrs: map[string]Attr{}, Content: []byte{0x01, 0x02, 0x03}},
	}

	encoded := EncodeNode(root)
	decoded, err := DecodeNode(encoded)
	require.NoError(t, err)
	require.True(t, root.Equal(decoded))
}

// property test: a random population of nodes all round-trip.
func TestNodeCodecRoundTrip_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"id", "type", "get", "set", "ack", "hello-world-123", "xn--unicode", "😀emoji", "", "s.whatsapp.net"}

	randString := func() string {
		return words[rng.Intn(len(words))]
	}

	var build func(depth int) *Node
	build = func(depth int) *Node {
		attrs := map[string]Attr{}
		for i := 0; i < rng.Intn(4); i++ {
			attrs[randString()+string(rune('a'+i))] = String(randString())
		}
		n := &Node{Tag: randString(), Attrs: attrs}
		switch {
		case depth <= 0:
			// leave content nil
		case rng.Intn(3) == 0:
			buf := make([]byte, rng.Intn(40))
			rng.Read(buf)
			n.Content = buf
		default:
			count := rng.Intn(3)
			children := make([]*Node, count)
			for i := range children {
				children[i] = build(depth - 1)
			}
			if count > 0 {
				n.Content = children
			}
		}
		return n
	}

	for i := 0; i < 200; i++ {
		n := build(3)
		encoded := EncodeNode(n)
		decoded, err := DecodeNode(encoded)
		require.NoError(t, err)
		require.True(t, n.Equal(decoded), "iteration %d: %+v != %+v", i, n, decoded)
	}
}

func TestFrameCompressionRoundTrip(t *testing.T) {
	n := NewNode("iq", map[string]Attr{"id": String("x"), "type": String("get")})
	encoded := EncodeNode(n)

	for _, compress := range []bool{false, true} {
		framed, err := EncodeFrame(encoded, compress)
		require.NoError(t, err)
		payload, err := DecodeFrame(framed)
		require.NoError(t, err)
		require.Equal(t, encoded, payload)
	}
}
