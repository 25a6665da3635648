package remote

import (
	"net/http"

	"github.com/rs/xid"
)

const requestIDHeader = "X-Request-Id"

// bearerRoundTripper authenticates every request with a fixed access token.
type bearerRoundTripper struct {
	next  http.RoundTripper
	token string
}

func (rt bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.token == "" {
		return rt.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+rt.token)
	return rt.next.RoundTrip(clone)
}

// requestIDRoundTripper tags requests so they can be matched with server-side logs.
type requestIDRoundTripper struct {
	next http.RoundTripper
}

func (rt requestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(requestIDHeader) != "" {
		return rt.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, xid.New().String())
	return rt.next.RoundTrip(clone)
}
