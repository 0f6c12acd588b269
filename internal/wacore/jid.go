// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package wacore holds the wire-level vocabulary shared by every other
// core package: the Jid address type and the Node tree that every frame
// ultimately carries.
package wacore

import (
	"fmt"
	"strconv"
	"strings"
)

// Server identifies which WhatsApp server namespace a Jid belongs to.
type Server string

const (
	ServerWhatsApp  Server = "s.whatsapp.net"
	ServerGroup     Server = "g.us"
	ServerBroadcast Server = "broadcast"
	ServerStatus    Server = "status"
	ServerUser      Server = "lid"
	ServerCompanion Server = "companion"
)

// Jid is the (user, device, server) identity triple used throughout the
// protocol. The zero Device value denotes the primary device.
type Jid struct {
	User   string
	Device uint16
	Server Server
}

// NewPrimaryJid builds a primary (device=0) Jid for user on server.
func NewPrimaryJid(user string, server Server) Jid {
	return Jid{User: user, Device: 0, Server: server}
}

// NewDeviceJid builds a companion-device Jid. device must be > 0; a zero
// device collapses to a primary Jid, which is almost never what a caller
// encrypting to a specific companion wants, so this is intentionally strict.
func NewDeviceJid(user string, device uint16, server Server) (Jid, error) {
	if device == 0 {
		return Jid{}, fmt.Errorf("wacore: device jid requires device > 0, got 0")
	}
	return Jid{User: user, Device: device, Server: server}, nil
}

// IsPrimary reports whether j addresses a primary device (device=0).
func (j Jid) IsPrimary() bool { return j.Device == 0 }

// ToPrimary returns the primary-device form of j, used when referencing a
// group participant in a participant list.
func (j Jid) ToPrimary() Jid { return Jid{User: j.User, Device: 0, Server: j.Server} }

// String renders the canonical "user:device@server" / "user@server" form.
func (j Jid) String() string {
	if j.Device == 0 {
		return fmt.Sprintf("%s@%s", j.User, j.Server)
	}
	return fmt.Sprintf("%s:%d@%s", j.User, j.Device, j.Server)
}

// ParseJid parses the canonical Jid string form produced by String.
func ParseJid(s string) (Jid, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return Jid{}, fmt.Errorf("wacore: invalid jid %q: missing @server", s)
	}
	left, server := s[:at], Server(s[at+1:])

	if colon := strings.IndexByte(left, ':'); colon >= 0 {
		device, err := strconv.ParseUint(left[colon+1:], 10, 16)
		if err != nil {
			return Jid{}, fmt.Errorf("wacore: invalid jid %q: bad device: %w", s, err)
		}
		return Jid{User: left[:colon], Device: uint16(device), Server: server}, nil
	}
	return Jid{User: left, Device: 0, Server: server}, nil
}

// SessionKey is the (user, device) pair Signal sessions are keyed by.
type SessionKey struct {
	User   string
	Device uint16
}

// SessionKey extracts the per-device key used to look up a Signal session.
func (j Jid) SessionKey() SessionKey { return SessionKey{User: j.User, Device: j.Device} }
