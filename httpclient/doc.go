// Package httpclient issues authenticated requests against a remote API.
//
// A Client joins a base URL with request paths, attaches "Authorization: Bearer <token>"
// from an oauth2client.TokenSource and turns every non-2xx response into a *ResponseError.
// When a request fails with 401 and the token source is revocable, the token is invalidated
// and the request is retried exactly once.
//
// # Quick Start
//
//	client := httpclient.NewClientCredentials(
//	    "https://api.example.com",
//	    "client-id",
//	    "client-secret",
//	    "https://auth.example.com/oauth2/token",
//	)
//
//	resp, err := client.
//	    Headers(http.Header{"User-Agent": {"API Client"}}).
//	    Timeout(5*time.Second).
//	    Post(ctx, "/orders", httpclient.WithJSON(order))
//
// # Configuration
//
// Client values are immutable. Params, Headers, Timeout, Cookies, Via, Encoding, Accept,
// Auth and BasicAuth return a new Client; the receiver keeps its configuration. Default
// params are merged, with later keys winning, and per-call WithParams override them.
//
// # Errors
//
// Non-2xx responses yield *ResponseError, which carries the Response. Mapped status codes can
// be matched with errors.Is against the Err* variants:
//
//	if errors.Is(err, httpclient.ErrNotFound) { ... }
//
// Transport and token failures are *goerrors.Error values with text codes such as
// TRANSPORT_FAILED and TOKEN_EXCHANGE_FAILED.
//
// # Plain http.Client
//
// Builder creates an *http.Client with TLS/mTLS, timeouts and an optional BearerTransport,
// which applies the same single retry at the RoundTripper level:
//
//	hc, err := httpclient.NewBuilder().
//	    WithTokenSource(tm).
//	    WithTLS("/path/to/ca.crt", "", "").
//	    Build()
package httpclient
