// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package wacore

// Token tables for NodeCodec's dictionary compression. singleByteTokens is
// indexed directly by opcode (3..235); dictionaryTable0 is selected by the
// DICTIONARY_0 opcode and indexed by the following byte. Both lists carry
// over the tag vocabulary the teacher's binary.go shipped, just reindexed
// to leave room for the wire format's reserved opcodes (0, 2, 236-255).
var singleByteTokens = []string{
	"1", "2", "3", "4", "5", "6", "7", "8",
	"9", "10", "11", "12", "13", "14", "15", "16",
	"17", "18", "19", "20", "21", "22", "23", "24",
	"25", "26", "27", "28", "29", "30", "account", "ack",
	"action", "active", "add", "after", "all", "allow", "and", "android",
	"announce", "archive", "available", "battery", "before", "block", "body", "broadcast",
	"call", "call-creator", "call-id", "cancel", "caption", "chat", "child", "clear",
	"code", "composing", "config", "contact", "contacts", "count", "create", "creator",
	"decrypt", "delete", "demote", "description", "device", "devices", "disappearing", "done",
	"download", "edit", "elapsed", "encoding", "encrypt", "end", "ephemeral", "error",
	"event", "exit", "exposure", "failure", "false", "fan_out", "file", "filename",
	"format", "from", "full", "g.us", "get", "gif", "group", "groups",
	"hash", "height", "host", "id", "image", "in", "inactive", "index",
	"info", "interactive", "invite", "ios", "iq", "is", "item", "items",
	"jid", "keep", "key", "keyvalue", "keys", "kind", "large", "last",
	"leave", "limit", "linked", "list", "live", "location", "locked", "md",
	"media", "media_type", "member", "merry", "message", "messages", "meta", "mime",
	"mirror", "mms", "modify", "msg", "mute", "name", "network", "new",
	"news", "newsletter", "none", "not", "notification", "notify", "number", "of",
	"offline", "opt", "order", "out", "owner", "paid", "pairing", "participant",
	"participants", "paused", "phash", "phone", "photo", "picture", "pin", "pinned",
	"platform", "pn", "preview", "previous", "primary", "private", "promote", "props",
	"protocol", "push", "pushname", "query", "quit", "quote", "rate", "read",
	"reason", "receipt", "received", "recipient", "remove", "removed", "reply", "report",
	"request", "require", "reset", "resource", "result", "retry", "revoke", "s.whatsapp.net",
	"screen", "search", "sec", "secret", "seen", "selected", "self", "sender",
	"serial", "server", "session", "set", "settings", "sf", "shake", "share",
	"short", "side", "sig", "silent", "size", "sky", "slow", "smax",
	"smbiz", "source", "sponsor", "srcjid", "starred", "start", "status", "sticky",
	"storage",
}

var dictionaryTable0 = []string{
	"store", "stop", "subject", "subscribe", "success", "sync", "system", "t",
	"tag", "taken", "target", "template", "terminate", "text", "thread", "ticket",
	"time", "timestamp", "to", "token", "true", "type", "unavailable", "undefined",
	"unique", "unknown", "unlock", "unread", "until", "update", "upgrade", "url",
	"user", "users", "v", "value", "version", "video", "voip", "wa",
	"web", "webp", "width", "write", "xmlns", "xmpp", "you", "years",
}

// dictionaryTables maps a DICTIONARY_n opcode index to its token table.
// Only table 0 is populated; 1-3 are reserved for future vocabulary growth,
// matching the wire format's four-way DICTIONARY_0..3 opcode split.
var dictionaryTables = [4][]string{dictionaryTable0, nil, nil, nil}

func findSingleByteToken(s string) (int, bool) {
	for i, tok := range singleByteTokens {
		if tok != "" && tok == s {
			return i + 3, true
		}
	}
	return 0, false
}

func findDictionaryToken(s string) (dict int, idx int, ok bool) {
	for d, table := range dictionaryTables {
		for i, tok := range table {
			if tok != "" && tok == s {
				return d, i, true
			}
		}
	}
	return 0, 0, false
}
