// Package testutil provides helpers for testing code built on go-apiclient.
//
// It offers an in-process OAuth2 token endpoint, a socket-free token endpoint mock,
// IPv4-only local HTTP servers and self-signed certificates for TLS tests.
package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// TokenPath is the path served by TokenEndpoint.
const TokenPath = "/oauth2/token"

// NewLocalHTTPServer starts an HTTP server bound to IPv4 loopback only.
// Some sandboxes block IPv6 listeners, so force tcp4 to keep tests runnable.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to create IPv4 listener: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	tb.Cleanup(server.Close)

	return server
}

// RoundTripFunc allows inlining http.RoundTripper implementations.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls the underlying function.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenEndpoint is a local OAuth2 token endpoint for the client credentials grant.
// The n-th successful exchange issues the access token "token-<n>".
type TokenEndpoint struct {
	*httptest.Server

	mu         sync.Mutex
	exchanges  int
	forms      []url.Values
	authHeader []string
	failStatus int
	expiresIn  int
	tokenFunc  func(n int) string
}

// TokenEndpointOption configures a TokenEndpoint.
type TokenEndpointOption func(*TokenEndpoint)

// WithExpiresIn sets the expires_in value of issued tokens. Zero omits the field.
func WithExpiresIn(seconds int) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		e.expiresIn = seconds
	}
}

// WithTokenFunc replaces the "token-<n>" naming of issued tokens.
func WithTokenFunc(fn func(n int) string) TokenEndpointOption {
	return func(e *TokenEndpoint) {
		e.tokenFunc = fn
	}
}

// NewTokenEndpoint starts a token endpoint that is closed when the test ends.
func NewTokenEndpoint(tb testing.TB, opts ...TokenEndpointOption) *TokenEndpoint {
	tb.Helper()

	e := &TokenEndpoint{
		expiresIn: 3600,
		tokenFunc: func(n int) string { return fmt.Sprintf("token-%d", n) },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Server = NewLocalHTTPServer(tb, http.HandlerFunc(e.serve))

	return e
}

// TokenURL returns the absolute URL of the token endpoint.
func (e *TokenEndpoint) TokenURL() string {
	return e.URL + TokenPath
}

// Exchanges returns how many token requests were received, failed ones included.
func (e *TokenEndpoint) Exchanges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchanges
}

// LastForm returns the form of the most recent token request, or nil.
func (e *TokenEndpoint) LastForm() url.Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.forms) == 0 {
		return nil
	}
	return e.forms[len(e.forms)-1]
}

// LastAuthorization returns the Authorization header of the most recent token request.
func (e *TokenEndpoint) LastAuthorization() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.authHeader) == 0 {
		return ""
	}
	return e.authHeader[len(e.authHeader)-1]
}

// FailWith makes subsequent exchanges answer with status and an OAuth2 error body.
// A zero status restores successful exchanges.
func (e *TokenEndpoint) FailWith(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStatus = status
}

func (e *TokenEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != TokenPath || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.exchanges++
	n := e.exchanges
	e.forms = append(e.forms, r.PostForm)
	e.authHeader = append(e.authHeader, r.Header.Get("Authorization"))
	failStatus := e.failStatus
	expiresIn := e.expiresIn
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failStatus != 0 {
		w.WriteHeader(failStatus)
		_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"client authentication failed"}`)
		return
	}

	body := map[string]any{
		"access_token": e.tokenFunc(n),
		"token_type":   "Bearer",
	}
	if expiresIn > 0 {
		body["expires_in"] = expiresIn
	}
	_ = json.NewEncoder(w).Encode(body)
}

// MockOAuth2Server simulates an OAuth2 token endpoint without real sockets.
// It records requests and serves responses through a custom RoundTripper.
type MockOAuth2Server struct {
	URL string
	Ctx context.Context

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockOAuth2Server builds a mock OAuth2 endpoint backed by an in-memory RoundTripper.
// The RoundTripper is installed as http.DefaultTransport and exposed through Ctx under
// oauth2.HTTPClient; both are restored when the test ends.
// If handler is nil, it returns a default successful token response.
func NewMockOAuth2Server(tb testing.TB, handler RoundTripFunc) *MockOAuth2Server {
	tb.Helper()

	server := &MockOAuth2Server{
		URL: "https://mock-oauth.example.com",
	}

	if handler == nil {
		handler = StaticJSONResponse(TokenResponse("mock-access-token", 3600))
	}

	rt := RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		server.mu.Lock()
		server.requests = append(server.requests, req)
		server.mu.Unlock()
		return handler(req)
	})

	prevTransport := http.DefaultTransport
	prevClient := http.DefaultClient
	http.DefaultTransport = rt
	http.DefaultClient = &http.Client{Transport: rt}
	tb.Cleanup(func() {
		http.DefaultTransport = prevTransport
		http.DefaultClient = prevClient
	})

	server.Ctx = context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: rt,
	})

	return server
}

// RequestCount returns the number of requests served so far.
func (m *MockOAuth2Server) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Close is a no-op to mirror httptest.Server usage in tests.
func (m *MockOAuth2Server) Close() {}

// TokenResponse renders a client credentials token response body.
func TokenResponse(accessToken string, expiresIn int) string {
	return fmt.Sprintf(`{"access_token":%q,"token_type":"Bearer","expires_in":%d}`, accessToken, expiresIn)
}

// StaticJSONResponse returns a RoundTripper that always responds with the provided JSON body.
func StaticJSONResponse(body string) RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

// WriteTestCACert writes a self-signed CA certificate to path for TLS tests.
func WriteTestCACert(tb testing.TB, path string) {
	tb.Helper()

	writeSelfSigned(tb, &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "apiclient-test-ca"},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, path, "")
}

// WriteTestCertAndKey writes a self-signed client/server certificate and its key.
func WriteTestCertAndKey(tb testing.TB, certPath, keyPath string) {
	tb.Helper()

	writeSelfSigned(tb, &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "apiclient-test"},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}, certPath, keyPath)
}

func writeSelfSigned(tb testing.TB, template *x509.Certificate, certPath, keyPath string) {
	tb.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("failed to generate key: %v", err)
	}

	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().Add(time.Hour)

	der, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		tb.Fatalf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		tb.Fatalf("failed to write certificate: %v", err)
	}

	if keyPath == "" {
		return
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		tb.Fatalf("failed to write key: %v", err)
	}
}
