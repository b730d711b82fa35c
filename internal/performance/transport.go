package performance

import (
	"context"
	"net/http"
	"time"
)

// Request is a fully rendered request handed to a Transport.
type Request struct {
	// Name labels the request in logs; it defaults to the URL
	Name    string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the result of a completed exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Duration is measured from sending the request to reading the full body
	Duration time.Duration
}

// Transport sends requests to the system under test. Failures are returned
// as *TransportError with a stable code.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }
