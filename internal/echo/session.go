package echo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
	"golang.org/x/sync/errgroup"
)

// SessionTransport is the server-side session surface the echo handler
// drives. Production sessions are wrapped by sessionTransport; tests
// substitute fakes.
type SessionTransport interface {
	AcceptStream(ctx context.Context) (Stream, error)
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	SendDatagram(payload []byte) error
}

// Stream is the per-stream surface the echo handler drives: the byte
// halves plus the id used in logs. *webtransport.Stream satisfies it.
type Stream interface {
	io.ReadWriteCloser
	StreamID() quic.StreamID
}

// sessionTransport adapts *webtransport.Session to SessionTransport.
type sessionTransport struct {
	sess *webtransport.Session
}

// Compile-time interface checks.
var _ SessionTransport = sessionTransport{}

func (t sessionTransport) AcceptStream(ctx context.Context) (Stream, error) {
	stream, err := t.sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (t sessionTransport) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return t.sess.ReceiveDatagram(ctx)
}

func (t sessionTransport) SendDatagram(payload []byte) error {
	return t.sess.SendDatagram(payload)
}

// SessionStats is a snapshot of one session's echo counters, exposed via
// the status API and the closing log line.
type SessionStats struct {
	ID              string `json:"id"`
	RemoteAddr      string `json:"remoteAddr"`
	ConnectedAt     int64  `json:"connectedAt"`
	UptimeMs        int64  `json:"uptimeMs"`
	StreamsAccepted int64  `json:"streamsAccepted"`
	StreamEchoes    int64  `json:"streamEchoes"`
	DatagramEchoes  int64  `json:"datagramEchoes"`
	BytesIn         int64  `json:"bytesIn"`
	BytesOut        int64  `json:"bytesOut"`
}

// Session services a single WebTransport echo session. It races the
// stream-accept loop against the datagram loop and spawns an independent
// echo goroutine for each accepted stream.
type Session struct {
	id         string
	log        *slog.Logger
	transport  SessionTransport
	remoteAddr string
	startedAt  time.Time

	streamsAccepted atomic.Int64
	streamEchoes    atomic.Int64
	datagramEchoes  atomic.Int64
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
}

// SessionConfig holds the parameters for creating an echo session.
type SessionConfig struct {
	ID         string
	Transport  SessionTransport
	RemoteAddr string
}

// NewSession creates the handler for an upgraded WebTransport session.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		id:         cfg.ID,
		log:        slog.With("session", cfg.ID, "remote", cfg.RemoteAddr),
		transport:  cfg.Transport,
		remoteAddr: cfg.RemoteAddr,
		startedAt:  time.Now(),
	}
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Stats returns a snapshot of the session's echo counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:              s.id,
		RemoteAddr:      s.remoteAddr,
		ConnectedAt:     s.startedAt.UnixMilli(),
		UptimeMs:        time.Since(s.startedAt).Milliseconds(),
		StreamsAccepted: s.streamsAccepted.Load(),
		StreamEchoes:    s.streamEchoes.Load(),
		DatagramEchoes:  s.datagramEchoes.Load(),
		BytesIn:         s.bytesIn.Load(),
		BytesOut:        s.bytesOut.Load(),
	}
}

// Run services the session until one of its event loops fails. A failed
// stream accept or a failed datagram receive ends the session; the group
// context cancels the surviving loop.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptStreams(ctx) })
	g.Go(func() error { return s.echoDatagrams(ctx) })
	return g.Wait()
}

// acceptStreams accepts bidirectional streams until the session ends.
// Each accepted stream is echoed on its own goroutine so a stalled or
// failed stream never blocks the accept loop.
func (s *Session) acceptStreams(ctx context.Context) error {
	for {
		stream, err := s.transport.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("accept stream: %w", err)
		}

		s.streamsAccepted.Add(1)
		s.log.Debug("stream accepted", "streamID", stream.StreamID())
		go s.echoStream(stream)
	}
}

// echoStream reads chunks from one bidirectional stream and writes the
// prefixed echo back. The goroutine owns both halves of the stream; a
// failure here ends this stream only, not the session.
func (s *Session) echoStream(stream Stream) {
	defer stream.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			s.bytesIn.Add(int64(n))

			reply := EchoStream(buf[:n])
			if _, werr := stream.Write(reply); werr != nil {
				s.log.Debug("stream write failed", "streamID", stream.StreamID(), "error", werr)
				return
			}
			s.bytesOut.Add(int64(len(reply)))
			s.streamEchoes.Add(1)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("stream read failed", "streamID", stream.StreamID(), "error", err)
			}
			return
		}
	}
}

// echoDatagrams receives datagrams and replies in kind until the session
// ends. Sends are best effort: a failed send is logged and the loop
// keeps serving; a failed receive ends the session.
func (s *Session) echoDatagrams(ctx context.Context) error {
	for {
		payload, err := s.transport.ReceiveDatagram(ctx)
		if err != nil {
			return fmt.Errorf("receive datagram: %w", err)
		}

		s.bytesIn.Add(int64(len(payload)))

		reply := EchoDatagram(payload)
		if err := s.transport.SendDatagram(reply); err != nil {
			s.log.Debug("datagram send failed", "error", err)
			continue
		}
		s.bytesOut.Add(int64(len(reply)))
		s.datagramEchoes.Add(1)
	}
}
