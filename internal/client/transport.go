// Package client implements the echo client: a connection controller
// owning one WebTransport session and one outbound stream, the status
// view it reports into, and dialers for native and browser builds.
package client

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for client state handling. These enable callers to
// programmatically distinguish failure modes using errors.Is.
var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Stream is the bidirectional stream surface the controller uses.
type Stream interface {
	io.ReadWriteCloser
}

// Session is the client-side session surface the controller drives.
// The native build wraps webtransport-go; the wasm build wraps the
// browser WebTransport API.
type Session interface {
	OpenStream(ctx context.Context) (Stream, error)
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	SendDatagram(payload []byte) error
	CloseWithError(code uint32, reason string) error
}

// DialFunc establishes a session with the server certificate pinned to
// the given SHA-256 fingerprint.
type DialFunc func(ctx context.Context, url string, certHash [32]byte) (Session, error)
