// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package router

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/waconnect/waconnect-go/internal/signal"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// DiscoverDevices resolves each bare user JID in jids to its full set of
// companion device JIDs via a usync query, the fan-out step a multi-device
// send needs before it can encrypt once per recipient device.
func DiscoverDevices(ctx context.Context, request RequestFunc, jids []string) (map[string][]string, error) {
	users := make([]*wacore.Node, 0, len(jids))
	for _, jid := range jids {
		users = append(users, &wacore.Node{Tag: "user", Attrs: map[string]wacore.Attr{"jid": wacore.String(jid)}})
	}

	query := &wacore.Node{
		Tag: "iq",
		Attrs: map[string]wacore.Attr{
			"type":  wacore.String("get"),
			"to":    wacore.String("s.whatsapp.net"),
			"xmlns": wacore.String("usync"),
		},
		Content: []*wacore.Node{{
			Tag: "usync",
			Attrs: map[string]wacore.Attr{
				"context": wacore.String("message"),
				"mode":    wacore.String("query"),
			},
			Content: []*wacore.Node{
				{Tag: "query", Content: []*wacore.Node{{Tag: "devices"}}},
				{Tag: "list", Content: users},
			},
		}},
	}

	resp, err := request(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("router: usync device discovery: %w", err)
	}

	usync := resp.GetChild("usync")
	if usync == nil {
		return nil, &DispatcherError{Message: "usync response missing usync node"}
	}
	list := usync.GetChild("list")
	if list == nil {
		return nil, &DispatcherError{Message: "usync response missing list node"}
	}

	out := make(map[string][]string, len(jids))
	for _, user := range list.GetChildren("user") {
		userJID := user.AttrString("jid")
		devicesNode := user.GetChild("devices")
		if devicesNode == nil {
			out[userJID] = []string{userJID}
			continue
		}
		for _, d := range devicesNode.GetChildren("device") {
			out[userJID] = append(out[userJID], d.AttrString("jid"))
		}
	}
	return out, nil
}

// randPadLen picks the PKCS7-style trailer length unpad expects, per the
// protocol's 1..15 range.
func randPadLen() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("router: random pad length: %w", err)
	}
	return b[0]%15 + 1, nil
}

// pad appends a PKCS7-style trailer of 1..15 random-length bytes, the
// inverse of dispatcher.go's unpad.
func pad(plaintext []byte) ([]byte, error) {
	n, err := randPadLen()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext)+int(n))
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = n
	}
	return out, nil
}

// EncryptForDevices pads plaintext once and seals it once per device session,
// returning the <message>-ready list of pkmsg/msg children keyed by which
// devices have and haven't completed a pairwise handshake yet.
func EncryptForDevices(sessions *signal.Store, deviceJIDs []string, plaintext []byte) ([]*wacore.Node, error) {
	padded, err := pad(plaintext)
	if err != nil {
		return nil, err
	}

	children := make([]*wacore.Node, 0, len(deviceJIDs))
	for _, device := range deviceJIDs {
		kind := "msg"
		var header signal.MessageHeader
		var ciphertext []byte
		err := sessions.WithRatchet(device, func(current *signal.RatchetState) (*signal.RatchetState, error) {
			if current == nil {
				return nil, &DispatcherError{Message: fmt.Sprintf("no established session for device %s", device)}
			}
			if !current.Established() {
				kind = "pkmsg"
			}
			h, ct, err := current.Encrypt(padded, []byte(kind))
			if err != nil {
				return current, err
			}
			header, ciphertext = h, ct
			return current, nil
		})
		if err != nil {
			return nil, fmt.Errorf("router: encrypt for device %s: %w", device, err)
		}

		envelope := signal.EncodeEnvelope(header, ciphertext)
		children = append(children, &wacore.Node{
			Tag:     kind,
			Attrs:   map[string]wacore.Attr{"v": wacore.Int(2)},
			Content: envelope,
		})
	}
	return children, nil
}

// BuildSend renders plaintext as the <message> node the transport sends: one
// pkmsg/msg child per device session, fanned out by EncryptForDevices.
func BuildSend(sessions *signal.Store, id, to string, deviceJIDs []string, plaintext []byte) (*wacore.Node, error) {
	children, err := EncryptForDevices(sessions, deviceJIDs, plaintext)
	if err != nil {
		return nil, err
	}
	return &wacore.Node{
		Tag: "message",
		Attrs: map[string]wacore.Attr{
			"id":   wacore.String(id),
			"to":   wacore.String(to),
			"type": wacore.String("text"),
		},
		Content: children,
	}, nil
}
