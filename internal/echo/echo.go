// Package echo implements the WebTransport echo service: it accepts
// sessions, answers bidirectional stream messages and datagrams with
// prefixed copies of their payloads, and tracks live sessions for the
// status API.
package echo

import (
	"strings"
	"unicode/utf8"
)

// Reply prefixes. Stream echoes and datagram echoes carry different
// prefixes so a client can tell the two paths apart.
const (
	StreamEchoPrefix   = "Server echo: "
	DatagramEchoPrefix = "Server datagram echo: "
)

// readChunkSize is the largest chunk consumed from a stream in one read.
// One read produces one reply; longer messages arrive as multiple chunks
// and produce multiple replies.
const readChunkSize = 1024

// lossyUTF8 decodes b as UTF-8, substituting one U+FFFD for each
// maximal invalid sequence. It never fails: arbitrary binary input
// yields a valid string.
func lossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		if b[i] < utf8.RuneSelf {
			sb.WriteByte(b[i])
			i++
			continue
		}
		if _, size := utf8.DecodeRune(b[i:]); size > 1 {
			sb.Write(b[i : i+size])
			i += size
			continue
		}
		i += invalidPrefixLen(b[i:])
		sb.WriteRune(utf8.RuneError)
	}
	return sb.String()
}

// invalidPrefixLen reports how many bytes at the start of b form the
// longest prefix of some valid UTF-8 encoding, given that b does not
// start a complete rune. A truncated multi-byte sequence counts as one
// unit; a byte that can never begin a rune counts alone. At least 1.
func invalidPrefixLen(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var follow int
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		follow = 1
	case c == 0xE0:
		lo, follow = 0xA0, 2
	case c == 0xED:
		hi, follow = 0x9F, 2
	case c >= 0xE1 && c <= 0xEF:
		follow = 2
	case c == 0xF0:
		lo, follow = 0x90, 3
	case c == 0xF4:
		hi, follow = 0x8F, 3
	case c >= 0xF1 && c <= 0xF3:
		follow = 3
	default:
		return 1
	}
	n := 1
	for ; n <= follow && n < len(b); n++ {
		if b[n] < lo || b[n] > hi {
			break
		}
		lo, hi = 0x80, 0xBF
	}
	return n
}

// EchoStream builds the reply for a chunk received on a stream.
func EchoStream(payload []byte) []byte {
	return []byte(StreamEchoPrefix + lossyUTF8(payload))
}

// EchoDatagram builds the reply for a received datagram.
func EchoDatagram(payload []byte) []byte {
	return []byte(DatagramEchoPrefix + lossyUTF8(payload))
}
