package echo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

// fakeStream implements Stream for test purposes. Reads are served from
// scripted chunks; writes are captured.
type fakeStream struct {
	mu       sync.Mutex
	pending  [][]byte
	readErr  error // returned once pending is drained; io.EOF if nil
	writes   bytes.Buffer
	writeErr error
	closed   bool
	done     chan struct{}
}

var _ Stream = (*fakeStream)(nil)

func newFakeStream(chunks ...[]byte) *fakeStream {
	return &fakeStream{pending: chunks, done: make(chan struct{})}
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, io.EOF
	}

	n := copy(p, f.pending[0])
	if n == len(f.pending[0]) {
		f.pending = f.pending[1:]
	} else {
		f.pending[0] = f.pending[0][n:]
	}
	return n, nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.writes.Write(p)
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeStream) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes.String()
}

func (f *fakeStream) StreamID() quic.StreamID { return 0 }

// fakeTransport implements SessionTransport for driving Session.Run.
// Streams and datagrams are fed through channels; echoed datagrams come
// back on sent.
type fakeTransport struct {
	streams   chan Stream
	datagrams chan []byte
	sent      chan []byte

	mu        sync.Mutex
	acceptErr error
	recvErr   error
	failSends int
}

var _ SessionTransport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		streams:   make(chan Stream, 4),
		datagrams: make(chan []byte, 4),
		sent:      make(chan []byte, 4),
	}
}

func (f *fakeTransport) AcceptStream(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	err := f.acceptErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case st := <-f.streams:
		return st, nil
	}
}

func (f *fakeTransport) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	err := f.recvErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-f.datagrams:
		return d, nil
	}
}

func (f *fakeTransport) SendDatagram(p []byte) error {
	f.mu.Lock()
	if f.failSends > 0 {
		f.failSends--
		f.mu.Unlock()
		return errors.New("datagram send refused")
	}
	f.mu.Unlock()

	f.sent <- append([]byte(nil), p...)
	return nil
}

func waitSent(t *testing.T, tr *fakeTransport) string {
	t.Helper()
	select {
	case p := <-tr.sent:
		return string(p)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram echo")
		return ""
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to end")
		return nil
	}
}

func TestEchoStreamSingleMessage(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte("hello"))

	s.echoStream(stream)

	if got, want := stream.written(), "Server echo: hello"; got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}
	if !stream.closed {
		t.Fatal("stream not closed after EOF")
	}

	stats := s.Stats()
	if stats.StreamEchoes != 1 {
		t.Fatalf("StreamEchoes = %d, want 1", stats.StreamEchoes)
	}
	if stats.BytesIn != int64(len("hello")) {
		t.Fatalf("BytesIn = %d, want %d", stats.BytesIn, len("hello"))
	}
	if stats.BytesOut != int64(len("Server echo: hello")) {
		t.Fatalf("BytesOut = %d, want %d", stats.BytesOut, len("Server echo: hello"))
	}
}

func TestEchoStreamMultipleMessages(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte("first"), []byte("second"))

	s.echoStream(stream)

	want := "Server echo: firstServer echo: second"
	if got := stream.written(); got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}
	if s.Stats().StreamEchoes != 2 {
		t.Fatalf("StreamEchoes = %d, want 2", s.Stats().StreamEchoes)
	}
}

func TestEchoStreamChunksLongMessages(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte(strings.Repeat("a", readChunkSize+500)))

	s.echoStream(stream)

	// One reply per read, so an oversized message produces two.
	got := stream.written()
	if n := strings.Count(got, StreamEchoPrefix); n != 2 {
		t.Fatalf("got %d replies, want 2", n)
	}
	wantLen := readChunkSize + 500 + 2*len(StreamEchoPrefix)
	if len(got) != wantLen {
		t.Fatalf("written %d bytes, want %d", len(got), wantLen)
	}
}

func TestEchoStreamInvalidUTF8(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte{0xFF, 'h', 'i'})

	s.echoStream(stream)

	if got, want := stream.written(), "Server echo: �hi"; got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}
}

func TestEchoStreamWriteFailure(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte("one"), []byte("never"))
	stream.writeErr = errors.New("stream reset")

	s.echoStream(stream)

	if !stream.closed {
		t.Fatal("stream not closed after write failure")
	}
	if s.Stats().StreamEchoes != 0 {
		t.Fatalf("StreamEchoes = %d, want 0", s.Stats().StreamEchoes)
	}
}

func TestEchoStreamReadFailure(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "test"})
	stream := newFakeStream([]byte("one"))
	stream.readErr = errors.New("stream reset")

	s.echoStream(stream)

	// The chunk read before the failure is still echoed.
	if got, want := stream.written(), "Server echo: one"; got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}
	if !stream.closed {
		t.Fatal("stream not closed after read failure")
	}
}

func TestRunEchoesAcceptedStreams(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	stream := newFakeStream([]byte("hello"))
	tr.streams <- stream

	select {
	case <-stream.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream echo")
	}

	if got, want := stream.written(), "Server echo: hello"; got != want {
		t.Fatalf("written = %q, want %q", got, want)
	}

	cancel()
	waitDone(t, done)

	stats := s.Stats()
	if stats.StreamsAccepted != 1 {
		t.Fatalf("StreamsAccepted = %d, want 1", stats.StreamsAccepted)
	}
}

func TestRunEchoesDatagrams(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	tr.datagrams <- []byte("ping")

	if got, want := waitSent(t, tr), "Server datagram echo: ping"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}

	cancel()
	waitDone(t, done)

	if s.Stats().DatagramEchoes != 1 {
		t.Fatalf("DatagramEchoes = %d, want 1", s.Stats().DatagramEchoes)
	}
}

func TestRunDatagramSendFailureNonFatal(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.failSends = 1
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First send fails, the session must keep serving.
	tr.datagrams <- []byte("one")
	tr.datagrams <- []byte("two")

	if got, want := waitSent(t, tr), "Server datagram echo: two"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}

	cancel()
	waitDone(t, done)

	if s.Stats().DatagramEchoes != 1 {
		t.Fatalf("DatagramEchoes = %d, want 1", s.Stats().DatagramEchoes)
	}
}

func TestRunAcceptFailureEndsSession(t *testing.T) {
	t.Parallel()

	errClosed := errors.New("session closed")
	tr := newFakeTransport()
	tr.acceptErr = errClosed
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	err := s.Run(context.Background())
	if !errors.Is(err, errClosed) {
		t.Fatalf("Run error = %v, want %v", err, errClosed)
	}
}

func TestRunDatagramReceiveFailureEndsSession(t *testing.T) {
	t.Parallel()

	errClosed := errors.New("session closed")
	tr := newFakeTransport()
	tr.recvErr = errClosed
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	err := s.Run(context.Background())
	if !errors.Is(err, errClosed) {
		t.Fatalf("Run error = %v, want %v", err, errClosed)
	}
}

func TestStreamFailureDoesNotEndSession(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := NewSession(SessionConfig{ID: "test", Transport: tr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	stream := newFakeStream([]byte("doomed"))
	stream.writeErr = errors.New("stream reset")
	tr.streams <- stream

	select {
	case <-stream.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failed stream to close")
	}

	// The session still echoes datagrams after the stream died.
	tr.datagrams <- []byte("ping")
	if got, want := waitSent(t, tr), "Server datagram echo: ping"; got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}

	cancel()
	waitDone(t, done)
}

func TestSessionStats(t *testing.T) {
	t.Parallel()

	s := NewSession(SessionConfig{ID: "sess-7", RemoteAddr: "10.0.0.1:4242"})
	s.streamsAccepted.Store(3)
	s.streamEchoes.Store(9)
	s.datagramEchoes.Store(4)
	s.bytesIn.Store(1000)
	s.bytesOut.Store(1200)

	stats := s.Stats()
	if stats.ID != "sess-7" {
		t.Fatalf("ID = %q", stats.ID)
	}
	if stats.RemoteAddr != "10.0.0.1:4242" {
		t.Fatalf("RemoteAddr = %q", stats.RemoteAddr)
	}
	if stats.StreamsAccepted != 3 {
		t.Fatalf("StreamsAccepted = %d", stats.StreamsAccepted)
	}
	if stats.StreamEchoes != 9 {
		t.Fatalf("StreamEchoes = %d", stats.StreamEchoes)
	}
	if stats.DatagramEchoes != 4 {
		t.Fatalf("DatagramEchoes = %d", stats.DatagramEchoes)
	}
	if stats.BytesIn != 1000 {
		t.Fatalf("BytesIn = %d", stats.BytesIn)
	}
	if stats.BytesOut != 1200 {
		t.Fatalf("BytesOut = %d", stats.BytesOut)
	}
	if stats.ConnectedAt == 0 {
		t.Fatal("ConnectedAt not set")
	}
}
