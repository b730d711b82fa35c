// Package httpengine implements the VU Transport on net/http.
package httpengine

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/barrage/internal/performance"
	"github.com/wesleyorama2/barrage/internal/performance/config"
)

// Error codes specific to HTTP exchanges.
const (
	CodeTLS     = "ECERT"
	CodeUnknown = "EHTTP"
)

// Config contains HTTP client configuration.
type Config struct {
	// Timeout for HTTP requests when the request carries none
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultConfig returns sensible defaults for load testing.
func DefaultConfig() Config {
	return Config{
		Timeout:             config.DefaultHTTPTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// FromSettings builds a Config from the script's http section.
func FromSettings(s config.HTTPSettings) Config {
	cfg := DefaultConfig()
	cfg.Timeout = s.Timeout.GetDuration(cfg.Timeout)
	cfg.MaxConnsPerHost = s.MaxSockets
	cfg.InsecureSkipVerify = s.InsecureSkipVerify
	return cfg
}

// Transport sends VU requests with a shared, pooled http.Client.
type Transport struct {
	client *http.Client
	config Config
	logger *zap.Logger
}

// New creates a Transport.
func New(cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &Transport{
		client: &http.Client{
			Transport: transport,
			// Redirects are returned to the VU as responses.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		config: cfg,
		logger: logger.With(zap.String("component", "http")),
	}
}

// Do implements performance.Transport.
func (t *Transport) Do(ctx context.Context, req *performance.Request) (*performance.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.config.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &performance.TransportError{Code: CodeUnknown, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &performance.TransportError{Code: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &performance.TransportError{Code: Classify(err), Err: fmt.Errorf("read response body: %w", err)}
	}

	return &performance.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

// Close releases idle connections.
func (t *Transport) Close() {
	t.client.CloseIdleConnections()
}

// Classify maps a client error to a stable error code.
func Classify(err error) string {
	var (
		netErr  net.Error
		dnsErr  *net.DNSError
		certErr *tls.CertificateVerificationError
		authErr x509.UnknownAuthorityError
		hostErr x509.HostnameError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return performance.CodeTimeout
	case errors.Is(err, context.Canceled):
		return performance.CodeCanceled
	case errors.As(err, &dnsErr):
		return performance.CodeNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return performance.CodeRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return performance.CodeReset
	case errors.As(err, &certErr), errors.As(err, &authErr), errors.As(err, &hostErr):
		return CodeTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return performance.CodeTimeout
	}
	return CodeUnknown
}
