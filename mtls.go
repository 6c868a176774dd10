package goBankID

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// NewMTLSHTTPClient builds an *http.Client that presents the relying-party
// certificate from a PKCS#12 bundle and trusts only caPEM. The bundle may
// carry intermediate certificates.
func NewMTLSHTTPClient(pfx []byte, passphrase string, caPEM []byte, timeout time.Duration) (*http.Client, error) {
	if len(pfx) == 0 {
		return nil, errors.New("bankid: empty pkcs12 bundle")
	}

	blocks, err := pkcs12.ToPEM(pfx, passphrase)
	if err != nil {
		return nil, fmt.Errorf("bankid: decode pkcs12: %w", err)
	}

	// X509KeyPair takes the first CERTIFICATE block as the leaf, so the one
	// sharing the key's localKeyId goes first.
	var keyID string
	for _, b := range blocks {
		if b.Type != "CERTIFICATE" {
			keyID = b.Headers["localKeyId"]
		}
	}
	var leaf, rest []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "CERTIFICATE" && leaf == nil && keyID != "" && b.Headers["localKeyId"] == keyID {
			leaf = encoded
			continue
		}
		rest = append(rest, encoded...)
	}
	pemData := append(leaf, rest...)
	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return nil, fmt.Errorf("bankid: load client certificate: %w", err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("bankid: no CA certificate found")
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion:   tls.VersionTLS12,
				Certificates: []tls.Certificate{cert},
				RootCAs:      roots,
			},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}
