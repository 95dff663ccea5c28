package httpclient

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AmmannChristian/go-apiclient/httpclient"

// Client issues authenticated requests against a single base URL.
//
// A Client is immutable. Configuration methods such as Params, Headers and Timeout return
// a new Client and leave the receiver untouched, so a Client can be shared and branched
// across goroutines without synchronization.
type Client struct {
	baseURL   string
	source    oauth2client.TokenSource
	params    map[string]string
	transport Transport
	logger    logrus.FieldLogger
	metrics   *metrics.Recorder
	tracer    trace.Tracer
}

// New creates a Client for baseURL. Without WithToken or WithTokenSource no Authorization
// header is sent.
//
//	client := httpclient.New("https://api.example.com", httpclient.WithToken("the api token"))
//	resp, err := client.Headers(http.Header{"User-Agent": {"API Client"}}).Get(ctx, "/orders")
func New(baseURL string, opts ...Option) *Client {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return newClient(baseURL, o)
}

// NewClientCredentials creates a Client that obtains its tokens with the OAuth2 client
// credentials flow. The token is cached under a key that includes baseURL.
//
//	client := httpclient.NewClientCredentials(
//	    "https://api.example.com",
//	    "client-id",
//	    "client-secret",
//	    "https://auth.example.com/oauth2/token",
//	    httpclient.WithTokenOptions(oauth2client.WithCache(store)),
//	)
func NewClientCredentials(baseURL, clientID, clientSecret, tokenURL string, opts ...Option) *Client {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	tokenOpts := []oauth2client.Option{oauth2client.WithCacheKeyScope(baseURL)}
	if o.logger != nil {
		tokenOpts = append(tokenOpts, oauth2client.WithLogger(o.logger))
	}
	if o.metrics != nil {
		tokenOpts = append(tokenOpts, oauth2client.WithMetrics(o.metrics))
	}
	tokenOpts = append(tokenOpts, o.tokenOptions...)

	o.source = oauth2client.NewTokenManager(context.Background(), tokenURL, clientID, clientSecret, "", tokenOpts...)
	return newClient(baseURL, o)
}

func newClient(baseURL string, o *clientOptions) *Client {
	transport := o.transport
	if transport == nil {
		transport = NewHTTPTransport(nil)
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Client{
		baseURL:   baseURL,
		source:    o.source,
		transport: transport,
		logger:    o.logger,
		metrics:   o.metrics,
		tracer:    tp.Tracer(tracerName),
	}
}

// BaseURL returns the URL every request path is appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TokenSource returns the configured token source, or nil.
func (c *Client) TokenSource() oauth2client.TokenSource {
	return c.source
}

// DefaultParams returns a copy of the params added to every request.
func (c *Client) DefaultParams() map[string]string {
	return maps.Clone(c.params)
}

// Transport returns the configured transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Token returns the bearer token for the next request, or "" if no token source is set.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.source == nil {
		return "", nil
	}
	return c.source.Token(ctx)
}

// Params returns a Client whose default params are the current ones merged with params.
// Keys in params win.
func (c *Client) Params(params map[string]string) *Client {
	merged := make(map[string]string, len(c.params)+len(params))
	maps.Copy(merged, c.params)
	maps.Copy(merged, params)

	clone := *c
	clone.params = merged
	return &clone
}

// Headers returns a Client that also sends h.
func (c *Client) Headers(h http.Header) *Client {
	return c.withTransport(c.transport.Headers(h))
}

// Timeout returns a Client whose requests time out after d.
func (c *Client) Timeout(d time.Duration) *Client {
	return c.withTransport(c.transport.Timeout(d))
}

// Cookies returns a Client that also sends cookies.
func (c *Client) Cookies(cookies ...*http.Cookie) *Client {
	return c.withTransport(c.transport.Cookies(cookies...))
}

// Via returns a Client that routes requests through proxyURL.
func (c *Client) Via(proxyURL string) *Client {
	return c.withTransport(c.transport.Via(proxyURL))
}

// Encoding returns a Client that reports response bodies in charset.
func (c *Client) Encoding(charset string) *Client {
	return c.withTransport(c.transport.Encoding(charset))
}

// Accept returns a Client that sends the given Accept header.
func (c *Client) Accept(mediaType string) *Client {
	return c.withTransport(c.transport.Accept(mediaType))
}

// Auth returns a Client with a raw Authorization header. A configured token source
// still replaces it on every request.
func (c *Client) Auth(value string) *Client {
	return c.withTransport(c.transport.Auth(value))
}

// BasicAuth returns a Client using HTTP Basic authentication. A configured token source
// still replaces it on every request.
func (c *Client) BasicAuth(username, password string) *Client {
	return c.withTransport(c.transport.BasicAuth(username, password))
}

func (c *Client) withTransport(t Transport) *Client {
	clone := *c
	clone.transport = t
	return &clone
}

// Get issues a GET request to baseURL+path.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, opts...)
}

// Post issues a POST request to baseURL+path.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, opts...)
}

// Put issues a PUT request to baseURL+path.
func (c *Client) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, opts...)
}

// Patch issues a PATCH request to baseURL+path.
func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, opts...)
}

// Delete issues a DELETE request to baseURL+path.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, opts...)
}

// Head issues a HEAD request to baseURL+path.
func (c *Client) Head(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodHead, path, opts...)
}

// Options issues an OPTIONS request to baseURL+path.
func (c *Client) Options(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodOptions, path, opts...)
}

// Do issues a request to baseURL+path. path is appended verbatim.
//
// A 2xx response is returned as is. Any other status yields a *ResponseError. If the
// status is 401 and the token source is Revocable, the token is invalidated and the
// request is sent once more with a fresh token; the caller only sees the final outcome.
// Token exchange and transport failures are returned without retry.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	reqOpts := RequestOptions{}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	if reqOpts.err != nil {
		return nil, requestWrapError(reqOpts.err, goerrors.CategoryBadInput, "httpclient: invalid request options",
			http.StatusBadRequest, TextCodeInvalidRequest, map[string]any{"method": method, "path": path})
	}
	if c.params != nil {
		merged := maps.Clone(c.params)
		maps.Copy(merged, reqOpts.Params)
		reqOpts.Params = merged
	}

	rawURL := c.baseURL + path

	ctx, span := c.tracer.Start(ctx, "apiclient "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", rawURL),
		),
	)
	defer span.End()

	retried := false
	for {
		resp, err := c.attempt(ctx, method, rawURL, reqOpts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "request failed")
			return nil, err
		}
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

		if resp.Success() {
			return resp, nil
		}

		respErr := NewResponseError(resp)
		if !retried && resp.StatusCode == http.StatusUnauthorized {
			if revocable, ok := c.source.(oauth2client.Revocable); ok {
				if invErr := revocable.InvalidateToken(ctx); invErr != nil {
					span.RecordError(invErr)
					span.SetStatus(otelcodes.Error, "token invalidation failed")
					return nil, errors.Join(respErr, invErr)
				}

				retried = true
				span.AddEvent("unauthorized_retry")
				c.metrics.IncRetry(method)
				if c.logger != nil {
					c.logger.WithFields(logrus.Fields{
						"method": method,
						"url":    rawURL,
					}).Info("httpclient: retrying request with a fresh token after 401")
				}
				continue
			}
		}

		span.SetStatus(otelcodes.Error, respErr.Name())
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{
				"method":      method,
				"url":         rawURL,
				"status_code": resp.StatusCode,
				"retried":     retried,
			}).Debug("httpclient: request failed")
		}
		return nil, respErr
	}
}

// attempt sends one request with a fresh header set and the current token.
func (c *Client) attempt(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	transport := c.transport.Headers(nil)

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		transport = transport.Auth("Bearer " + token)
	}

	start := time.Now()
	resp, err := transport.Request(ctx, method, rawURL, opts)
	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	c.metrics.ObserveRequest(method, code, time.Since(start).Seconds())

	return resp, err
}

// Close releases resources held by the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}
