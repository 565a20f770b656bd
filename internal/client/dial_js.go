//go:build js && wasm

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall/js"
)

// Dial opens a browser WebTransport connection with the server
// certificate pinned via serverCertificateHashes. It satisfies DialFunc.
func Dial(_ context.Context, url string, certHash [32]byte) (Session, error) {
	wtClass := js.Global().Get("WebTransport")
	if wtClass.IsUndefined() {
		return nil, errors.New("client: WebTransport API not available in this browser")
	}

	hashObj := js.Global().Get("Object").New()
	hashObj.Set("algorithm", "sha-256")
	buf := js.Global().Get("ArrayBuffer").New(len(certHash))
	arr := js.Global().Get("Uint8Array").New(buf)
	js.CopyBytesToJS(arr, certHash[:])
	hashObj.Set("value", buf)

	hashesArr := js.Global().Get("Array").New()
	hashesArr.Call("push", hashObj)

	opts := js.Global().Get("Object").New()
	opts.Set("serverCertificateHashes", hashesArr)

	wt := wtClass.New(url, opts)

	if _, err := awaitPromise(wt.Get("ready")); err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	datagrams := wt.Get("datagrams")
	return &browserSession{
		transport: wt,
		dgReader:  datagrams.Get("readable").Call("getReader"),
		dgWriter:  datagrams.Get("writable").Call("getWriter"),
		closeCh:   make(chan struct{}),
	}, nil
}

// browserSession wraps a browser WebTransport object and implements
// Session.
type browserSession struct {
	transport js.Value
	dgReader  js.Value // datagrams ReadableStreamDefaultReader
	dgWriter  js.Value // datagrams WritableStreamDefaultWriter

	closeCh   chan struct{}
	closeOnce sync.Once
}

var _ Session = (*browserSession)(nil)

// OpenStream creates a new bidirectional stream.
func (s *browserSession) OpenStream(ctx context.Context) (Stream, error) {
	select {
	case <-s.closeCh:
		return nil, io.ErrClosedPipe
	default:
	}

	bidi, err := awaitPromise(s.transport.Call("createBidirectionalStream"))
	if err != nil {
		return nil, fmt.Errorf("client: open stream: %w", err)
	}
	return newBrowserStream(bidi), nil
}

// ReceiveDatagram waits for the next datagram on the session.
func (s *browserSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case <-s.closeCh:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := awaitPromise(s.dgReader.Call("read"))
	if err != nil {
		return nil, err
	}
	if result.Get("done").Bool() {
		return nil, io.EOF
	}
	return copyBytesFromJS(result.Get("value")), nil
}

// SendDatagram sends one datagram on the session.
func (s *browserSession) SendDatagram(payload []byte) error {
	select {
	case <-s.closeCh:
		return io.ErrClosedPipe
	default:
	}

	arr := js.Global().Get("Uint8Array").New(len(payload))
	js.CopyBytesToJS(arr, payload)

	_, err := awaitPromise(s.dgWriter.Call("write", arr))
	return err
}

// CloseWithError closes the WebTransport session with the given code
// and reason.
func (s *browserSession) CloseWithError(code uint32, reason string) error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		info := js.Global().Get("Object").New()
		info.Set("closeCode", int(code))
		info.Set("reason", reason)
		s.transport.Call("close", info)
	})
	return nil
}

// browserStream wraps a browser WebTransportBidirectionalStream and
// implements Stream.
type browserStream struct {
	reader js.Value // ReadableStreamDefaultReader
	writer js.Value // WritableStreamDefaultWriter

	readBuf []byte
	readMu  sync.Mutex
	writeMu sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

var _ Stream = (*browserStream)(nil)

func newBrowserStream(bidi js.Value) *browserStream {
	return &browserStream{
		reader:  bidi.Get("readable").Call("getReader"),
		writer:  bidi.Get("writable").Call("getWriter"),
		closeCh: make(chan struct{}),
	}
}

// Read reads data from the stream, buffering any overflow from the
// underlying browser read for the next call.
func (s *browserStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	select {
	case <-s.closeCh:
		return 0, io.ErrClosedPipe
	default:
	}

	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		return n, nil
	}

	result, err := awaitPromise(s.reader.Call("read"))
	if err != nil {
		return 0, err
	}
	if result.Get("done").Bool() {
		return 0, io.EOF
	}

	data := copyBytesFromJS(result.Get("value"))
	n := copy(p, data)
	if n < len(data) {
		s.readBuf = data[n:]
	}
	return n, nil
}

// Write writes data to the stream.
func (s *browserStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closeCh:
		return 0, io.ErrClosedPipe
	default:
	}

	arr := js.Global().Get("Uint8Array").New(len(p))
	js.CopyBytesToJS(arr, p)

	if _, err := awaitPromise(s.writer.Call("write", arr)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes both halves of the stream.
func (s *browserStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.reader.Call("cancel")
		// writer.close() returns a Promise; fire and forget.
		s.writer.Call("close")
	})
	return nil
}

// copyBytesFromJS copies a JS Uint8Array view into a fresh Go slice.
func copyBytesFromJS(value js.Value) []byte {
	length := value.Get("byteLength").Int()
	data := make([]byte, length)
	view := js.Global().Get("Uint8Array").New(value.Get("buffer"), value.Get("byteOffset"), length)
	js.CopyBytesToGo(data, view)
	return data
}

// awaitPromise blocks until a JS Promise resolves or rejects.
func awaitPromise(promise js.Value) (js.Value, error) {
	ch := make(chan js.Value, 1)
	errCh := make(chan error, 1)

	thenFn := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) > 0 {
			ch <- args[0]
		} else {
			ch <- js.Undefined()
		}
		return nil
	})

	catchFn := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) > 0 && !args[0].IsUndefined() && !args[0].IsNull() {
			errCh <- fmt.Errorf("%s", args[0].Call("toString").String())
		} else {
			errCh <- errors.New("unknown error")
		}
		return nil
	})

	defer thenFn.Release()
	defer catchFn.Release()

	promise.Call("then", thenFn).Call("catch", catchFn)

	select {
	case val := <-ch:
		return val, nil
	case err := <-errCh:
		return js.Undefined(), err
	}
}
