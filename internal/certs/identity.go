package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// Load reads a PEM certificate/key pair from disk, for deployments that
// provision their own identity instead of using Generate. The fingerprint is
// computed over the leaf certificate's DER bytes, matching what the browser
// hashes for serverCertificateHashes.
func Load(certFile, keyFile string) (*CertInfo, error) {
	tlsCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	if len(tlsCert.Certificate) == 0 {
		return nil, errors.New("certs: key pair contains no certificate")
	}

	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}

	return &CertInfo{
		TLSCert:     tlsCert,
		Fingerprint: sha256.Sum256(tlsCert.Certificate[0]),
		NotAfter:    leaf.NotAfter,
	}, nil
}

// ParseFingerprintHex decodes a hex-encoded SHA-256 fingerprint as produced
// by FingerprintHex.
func ParseFingerprintHex(s string) ([32]byte, error) {
	var fp [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("certs: decode fingerprint: %w", err)
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("certs: fingerprint is %d bytes, want %d", len(b), len(fp))
	}
	copy(fp[:], b)
	return fp, nil
}

// Pin returns a tls.Config.VerifyPeerCertificate function that accepts a peer
// exactly when one of its presented certificates hashes to fp. Used together
// with InsecureSkipVerify to replace CA validation with fingerprint pinning.
func Pin(fp [32]byte) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			if sha256.Sum256(raw) == fp {
				return nil
			}
		}
		return fmt.Errorf("certs: no presented certificate matches pinned fingerprint %s", hex.EncodeToString(fp[:]))
	}
}
