package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/larkmcp/lark-mcp-server/pkg/text"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultUA = "lark-mcp-server/1.0"

// Transport decorates outbound requests with a User-Agent and a request id
// and logs request outcomes. The underlying http.Transport is built from the
// LARK_MCP_PROXY / LARK_MCP_SERVER_CA environment.
type Transport struct {
	roundTripper http.RoundTripper
	userAgent    string
	logger       *zap.Logger
}

// New creates a new Transport.
func New(userAgent string, logger *zap.Logger) (*Transport, error) {
	if userAgent == "" {
		userAgent = defaultUA
	}

	var proxy func(*http.Request) (*url.URL, error)
	if proxyURL := os.Getenv("LARK_MCP_PROXY"); proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy URL: %w", err)
		}
		proxy = http.ProxyURL(parsed)
	}

	rootCAs, _ := x509.SystemCertPool()
	if rootCAs == nil {
		rootCAs = x509.NewCertPool()
	}

	insecure := false
	if localCertFile := os.Getenv("LARK_MCP_SERVER_CA"); localCertFile != "" {
		certs, err := os.ReadFile(localCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", localCertFile, err)
		}
		if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
			logger.Warn("No certs appended, using system certs only",
				zap.String("file", localCertFile),
			)
		} else if parsed := parsePEM(certs); len(parsed) > 0 {
			logger.Info("Appended custom CA certificates",
				zap.String("certs", text.HumanizeCertificates(parsed)),
			)
		}
	} else if os.Getenv("LARK_MCP_SERVER_CA_INSECURE") != "" {
		insecure = true
		logger.Warn("TLS certificate verification is disabled")
	}

	t := &http.Transport{
		Proxy: proxy,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure,
			RootCAs:            rootCAs,
		},
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("failed to configure http2: %w", err)
	}

	return &Transport{
		roundTripper: t,
		userAgent:    userAgent,
		logger:       logger,
	}, nil
}

// RoundTrip implements the http.RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set("User-Agent", t.userAgent)
	if clonedReq.Header.Get("X-Request-Id") == "" {
		clonedReq.Header.Set("X-Request-Id", uuid.NewString())
	}

	t.logger.Debug("Making request",
		zap.String("method", clonedReq.Method),
		zap.String("url", clonedReq.URL.String()),
	)

	resp, err := t.roundTripper.RoundTrip(clonedReq)
	if err != nil {
		t.logger.Error("Request failed",
			zap.String("url", clonedReq.URL.String()),
			zap.Error(err),
		)
		return nil, err
	}

	t.logger.Debug("Request completed",
		zap.String("url", clonedReq.URL.String()),
		zap.Int("status", resp.StatusCode),
	)
	return resp, nil
}

func parsePEM(pemCerts []byte) []*x509.Certificate {
	var certs []*x509.Certificate
	for len(pemCerts) > 0 {
		var block *pem.Block
		block, pemCerts = pem.Decode(pemCerts)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}
