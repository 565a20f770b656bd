package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"
)

// receiveChunkSize is the largest chunk consumed from the reply stream
// in one read. One read yields one displayed message.
const receiveChunkSize = 1024

// Config holds the collaborators for a Controller.
type Config struct {
	Dial DialFunc
	UI   UI
	Log  *slog.Logger
}

// Controller owns the client connection state: at most one session and
// one outbound stream at a time. Every user-visible event flows through
// the configured UI; stream writes are serialized by a dedicated mutex.
type Controller struct {
	dial DialFunc
	ui   UI
	log  *slog.Logger

	mu      sync.Mutex // guards session and stream handles
	writeMu sync.Mutex // serializes writes on the outbound stream
	session Session
	stream  Stream
}

// NewController creates a Controller. If cfg.Log is nil, slog.Default()
// is used.
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		dial: cfg.Dial,
		ui:   cfg.UI,
		log:  log.With("component", "echo-client"),
	}
}

// Connected reports whether a session is currently live.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Connect dials the server, opens the outbound bidirectional stream,
// and starts the two receive loops. A second connect while a session is
// live is rejected. On any failure the state is left empty and the UI
// stays disconnected.
func (c *Controller) Connect(ctx context.Context, rawURL string, certHash [32]byte) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		c.ui.AddMessage("Already connected", KindSystem)
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if _, err := url.ParseRequestURI(rawURL); err != nil {
		c.ui.AddMessage(fmt.Sprintf("Invalid URL: %v", err), KindSystem)
		return fmt.Errorf("client: invalid URL %q: %w", rawURL, err)
	}

	c.log.Info("connecting", "url", rawURL)

	session, err := c.dial(ctx, rawURL, certHash)
	if err != nil {
		c.ui.AddMessage(fmt.Sprintf("Connection failed: %v", err), KindSystem)
		return fmt.Errorf("client: connect %s: %w", rawURL, err)
	}

	c.ui.AddMessage("Connected successfully!", KindSystem)

	stream, err := session.OpenStream(ctx)
	if err != nil {
		session.CloseWithError(0, "stream open failed")
		c.ui.AddMessage(fmt.Sprintf("Failed to open stream: %v", err), KindSystem)
		return fmt.Errorf("client: open stream: %w", err)
	}

	c.ui.AddMessage("Stream opened, ready to send/receive", KindSystem)

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		session.CloseWithError(0, "duplicate connection")
		c.ui.AddMessage("Already connected", KindSystem)
		return ErrAlreadyConnected
	}
	c.session = session
	c.stream = stream
	c.mu.Unlock()

	go c.receiveStream(stream)
	go c.receiveDatagrams(session)

	c.ui.SetConnected(true)
	return nil
}

// SendStream writes one message on the outbound stream.
func (c *Controller) SendStream(text string) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		c.ui.AddMessage("Not connected - no send stream available", KindSystem)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	_, err := stream.Write([]byte(text))
	c.writeMu.Unlock()
	if err != nil {
		c.ui.AddMessage(fmt.Sprintf("Send error: %v", err), KindSystem)
		return fmt.Errorf("client: stream send: %w", err)
	}

	c.ui.AddMessage(text, KindSent)
	return nil
}

// SendDatagram sends one message as a datagram on the session.
func (c *Controller) SendDatagram(text string) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		c.ui.AddMessage("Not connected - no session available", KindSystem)
		return ErrNotConnected
	}

	if err := session.SendDatagram([]byte(text)); err != nil {
		c.ui.AddMessage(fmt.Sprintf("Datagram send error: %v", err), KindSystem)
		return fmt.Errorf("client: datagram send: %w", err)
	}

	c.ui.AddMessage("[Datagram] "+text, KindSent)
	return nil
}

// Disconnect closes the session if one is live. The disconnected notice
// is shown regardless, matching a user-initiated disconnect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.stream = nil
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		session.CloseWithError(0, "User requested disconnect")
	}

	c.ui.AddMessage("Disconnected", KindSystem)
	c.ui.SetConnected(false)
}

// receiveStream displays replies from the outbound stream until the
// stream ends. End-of-stream and read failures both stop the loop.
func (c *Controller) receiveStream(stream Stream) {
	buf := make([]byte, receiveChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			c.ui.AddMessage("[Stream] "+lossyUTF8(buf[:n]), KindReceived)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.ui.AddMessage("Stream closed by server", KindSystem)
			} else {
				c.ui.AddMessage(fmt.Sprintf("Read error: %v", err), KindSystem)
			}
			return
		}
	}
}

// receiveDatagrams displays echoed datagrams until the session ends.
// The loop stops permanently on the first receive failure.
func (c *Controller) receiveDatagrams(session Session) {
	for {
		payload, err := session.ReceiveDatagram(context.Background())
		if err != nil {
			c.ui.AddMessage(fmt.Sprintf("Datagram receive error: %v", err), KindSystem)
			return
		}
		c.ui.AddMessage("[Datagram] "+lossyUTF8(payload), KindReceived)
	}
}

// lossyUTF8 decodes b as UTF-8, substituting one U+FFFD for each
// maximal invalid sequence. Replies are valid UTF-8 from the server,
// but a chunk boundary can still split a rune.
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
