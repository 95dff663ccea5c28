package httpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultMaxResponseBodyBytes limits how much of a response body is read.
const DefaultMaxResponseBodyBytes int64 = 10 << 20 // 10 MiB

// HTTPDoer executes HTTP requests. *http.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport issues HTTP requests for a Client. Configuration methods never modify the
// receiver; they return a new Transport with the directive applied.
type Transport interface {
	// Headers returns a copy whose header set also contains h. Headers(nil) returns a
	// copy with an independent header set.
	Headers(h http.Header) Transport
	Timeout(d time.Duration) Transport
	Cookies(cookies ...*http.Cookie) Transport
	// Via routes requests through the given proxy URL.
	Via(proxyURL string) Transport
	// Encoding forces the charset reported for response bodies.
	Encoding(charset string) Transport
	Accept(mediaType string) Transport
	// Auth sets the raw Authorization header value.
	Auth(value string) Transport
	BasicAuth(username, password string) Transport

	// Request performs one HTTP request and returns its response whatever the status.
	Request(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error)
	// Close releases idle connections.
	Close() error
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	// URI is the final request URI after redirects.
	URI     string
	Charset string
}

// Success reports whether the status is 2xx.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// String returns the body as text.
func (r *Response) String() string {
	return string(r.Body)
}

// HTTPTransport is the default Transport, backed by an HTTPDoer.
type HTTPTransport struct {
	doer         HTTPDoer
	header       http.Header
	cookies      []*http.Cookie
	timeout      time.Duration
	charset      string
	maxBodyBytes int64
	err          error
}

// NewHTTPTransport creates an HTTPTransport. A nil doer uses a new http.Client with the
// default transport and no client timeout.
func NewHTTPTransport(doer HTTPDoer) *HTTPTransport {
	if doer == nil {
		doer = &http.Client{}
	}
	return &HTTPTransport{
		doer:         doer,
		header:       http.Header{},
		maxBodyBytes: DefaultMaxResponseBodyBytes,
	}
}

// WithMaxResponseBodyBytes returns a copy with a different response body limit.
func (t *HTTPTransport) WithMaxResponseBodyBytes(n int64) *HTTPTransport {
	c := t.clone()
	if n > 0 {
		c.maxBodyBytes = n
	}
	return c
}

// Header returns a copy of the configured header set.
func (t *HTTPTransport) Header() http.Header {
	return t.header.Clone()
}

func (t *HTTPTransport) clone() *HTTPTransport {
	c := *t
	c.header = t.header.Clone()
	if c.header == nil {
		c.header = http.Header{}
	}
	c.cookies = slices.Clone(t.cookies)
	return &c
}

func (t *HTTPTransport) Headers(h http.Header) Transport {
	c := t.clone()
	for key, values := range h {
		c.header.Del(key)
		for _, v := range values {
			c.header.Add(key, v)
		}
	}
	return c
}

func (t *HTTPTransport) Timeout(d time.Duration) Transport {
	c := t.clone()
	c.timeout = d
	return c
}

func (t *HTTPTransport) Cookies(cookies ...*http.Cookie) Transport {
	c := t.clone()
	c.cookies = append(c.cookies, cookies...)
	return c
}

func (t *HTTPTransport) Via(proxyURL string) Transport {
	c := t.clone()

	proxy, err := url.Parse(proxyURL)
	if err != nil {
		c.err = fmt.Errorf("httpclient: invalid proxy url: %w", err)
		return c
	}

	client, ok := t.doer.(*http.Client)
	if !ok {
		c.err = errors.New("httpclient: proxy requires an *http.Client")
		return c
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpTransport, ok := base.(*http.Transport)
	if !ok {
		c.err = errors.New("httpclient: proxy requires an *http.Transport")
		return c
	}

	proxied := httpTransport.Clone()
	proxied.Proxy = http.ProxyURL(proxy)
	clientCopy := *client
	clientCopy.Transport = proxied
	c.doer = &clientCopy
	return c
}

func (t *HTTPTransport) Encoding(charset string) Transport {
	c := t.clone()
	c.charset = charset
	return c
}

func (t *HTTPTransport) Accept(mediaType string) Transport {
	c := t.clone()
	c.header.Set("Accept", mediaType)
	return c
}

func (t *HTTPTransport) Auth(value string) Transport {
	c := t.clone()
	c.header.Set("Authorization", value)
	return c
}

func (t *HTTPTransport) BasicAuth(username, password string) Transport {
	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return t.Auth("Basic " + credentials)
}

// Request implements Transport.
func (t *HTTPTransport) Request(ctx context.Context, method, rawURL string, opts RequestOptions) (*Response, error) {
	if t.err != nil {
		return nil, requestWrapError(t.err, goerrors.CategoryBadInput, "httpclient: invalid transport configuration",
			http.StatusBadRequest, TextCodeInvalidRequest, nil)
	}
	if t.doer == nil {
		return nil, requestError("httpclient: transport requires an http client", goerrors.CategoryInternal,
			http.StatusInternalServerError, TextCodeInvalidRequest, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	maxBodyBytes := t.maxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxResponseBodyBytes
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, requestWrapError(err, goerrors.CategoryBadInput, "httpclient: invalid request url",
			http.StatusBadRequest, TextCodeInvalidRequest, map[string]any{"url": rawURL})
	}
	if len(opts.Params) > 0 {
		query := parsedURL.Query()
		for key, value := range opts.Params {
			query.Add(key, value)
		}
		parsedURL.RawQuery = query.Encode()
	}

	requestCtx := ctx
	cancel := func() {}
	if t.timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	defer cancel()

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), body)
	if err != nil {
		return nil, requestWrapError(err, goerrors.CategoryBadInput, "httpclient: create http request",
			http.StatusBadRequest, TextCodeInvalidRequest, map[string]any{"method": method, "url": parsedURL.String()})
	}

	for key, values := range t.header {
		httpReq.Header[key] = slices.Clone(values)
	}
	for key, values := range opts.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if opts.ContentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", opts.ContentType)
	}
	for _, cookie := range t.cookies {
		httpReq.AddCookie(cookie)
	}

	httpRes, err := t.doer.Do(httpReq)
	if err != nil {
		return nil, requestWrapError(err, goerrors.CategoryExternal, "httpclient: execute http request",
			http.StatusBadGateway, TextCodeTransportFailed, map[string]any{"method": method, "url": parsedURL.String()})
	}
	defer httpRes.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return nil, requestWrapError(err, goerrors.CategoryExternal, "httpclient: read response body",
			http.StatusBadGateway, TextCodeTransportFailed, map[string]any{"status_code": httpRes.StatusCode})
	}
	if int64(len(data)) > maxBodyBytes {
		return nil, requestError(
			fmt.Sprintf("httpclient: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			TextCodeResponseTooLarge,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": maxBodyBytes},
		)
	}

	uri := parsedURL.String()
	if httpRes.Request != nil && httpRes.Request.URL != nil {
		uri = httpRes.Request.URL.String()
	}

	return &Response{
		StatusCode: httpRes.StatusCode,
		Status:     httpRes.Status,
		Header:     httpRes.Header,
		Body:       data,
		URI:        uri,
		Charset:    t.responseCharset(httpRes.Header.Get("Content-Type")),
	}, nil
}

// Close releases idle connections of the underlying client, if it supports it.
func (t *HTTPTransport) Close() error {
	if closer, ok := t.doer.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return nil
}

func (t *HTTPTransport) responseCharset(contentType string) string {
	if t.charset != "" {
		return t.charset
	}
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

var _ Transport = (*HTTPTransport)(nil)
