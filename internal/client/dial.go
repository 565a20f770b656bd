//go:build !js

package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"

	"github.com/zsiec/wtecho/internal/certs"
)

// keepAlivePeriod keeps the QUIC connection alive while the user idles.
const keepAlivePeriod = 15 * time.Second

// Dial establishes a WebTransport session with the server certificate
// pinned to certHash. It satisfies DialFunc.
func Dial(ctx context.Context, url string, certHash [32]byte) (Session, error) {
	d := &webtransport.Dialer{
		TLSClientConfig: &tls.Config{
			// Pinning replaces CA validation: the verify callback accepts
			// exactly the pinned certificate and nothing else.
			InsecureSkipVerify:    true,
			VerifyPeerCertificate: certs.Pin(certHash),
		},
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
			KeepAlivePeriod: keepAlivePeriod,
		},
	}

	_, session, err := d.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &nativeSession{session: session}, nil
}

// nativeSession adapts *webtransport.Session to the Session interface.
type nativeSession struct {
	session *webtransport.Session
}

var _ Session = (*nativeSession)(nil)

func (s *nativeSession) OpenStream(ctx context.Context) (Stream, error) {
	stream, err := s.session.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *nativeSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.session.ReceiveDatagram(ctx)
}

func (s *nativeSession) SendDatagram(payload []byte) error {
	return s.session.SendDatagram(payload)
}

func (s *nativeSession) CloseWithError(code uint32, reason string) error {
	return s.session.CloseWithError(webtransport.SessionErrorCode(code), reason)
}
