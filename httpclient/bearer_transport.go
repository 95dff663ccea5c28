package httpclient

import (
	"fmt"
	"io"
	"net/http"

	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// BearerTransport is an http.RoundTripper that adds "Authorization: Bearer <token>"
// to outgoing requests.
//
// When the response is 401 and Source is Revocable, the token is invalidated and the
// request is sent once more with a fresh token. Requests whose body cannot be replayed
// (no GetBody) are not retried.
type BearerTransport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Source provides bearer tokens.
	Source oauth2client.TokenSource
}

// NewBearerTransport creates a BearerTransport. The base transport defaults to
// http.DefaultTransport if not specified.
func NewBearerTransport(src oauth2client.TokenSource, base http.RoundTripper) *BearerTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &BearerTransport{
		Base:   base,
		Source: src,
	}
}

// RoundTrip implements http.RoundTripper. The token fetch respects the request context.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Source == nil {
		return nil, fmt.Errorf("httpclient: token source is nil")
	}

	resp, err := t.send(req, req.Body)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	revocable, ok := t.Source.(oauth2client.Revocable)
	if !ok {
		return resp, nil
	}
	var body io.ReadCloser = http.NoBody
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return resp, nil
		}
		replay, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		body = replay
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if err := revocable.InvalidateToken(req.Context()); err != nil {
		return nil, fmt.Errorf("httpclient: failed to invalidate token: %w", err)
	}
	return t.send(req, body)
}

func (t *BearerTransport) send(req *http.Request, body io.ReadCloser) (*http.Response, error) {
	token, err := t.Source.Token(req.Context())
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("httpclient: failed to get token: %w", err)
	}

	// Clone the request to avoid modifying the original
	reqClone := req.Clone(req.Context())
	reqClone.Body = body
	reqClone.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(reqClone)
}
