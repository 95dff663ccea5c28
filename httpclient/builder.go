package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-apiclient/internal/tlsconfig"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// Builder provides a fluent interface for constructing *http.Client values with optional
// bearer authentication and TLS/mTLS support. The result can back an HTTPTransport or be
// used on its own.
type Builder struct {
	// Authentication
	tokenSource oauth2client.TokenSource

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool
}

// NewBuilder creates a new HTTP client builder.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         30 * time.Second,
		followRedirects: true,
	}
}

// WithTokenSource wraps the built transport in a BearerTransport using src.
func (b *Builder) WithTokenSource(src oauth2client.TokenSource) *Builder {
	b.tokenSource = src
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication by creating a new TokenManager.
//
// Parameters:
//   - ctx: Context for the token manager
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes, may be empty
//   - opts: TokenManager options such as oauth2client.WithCache
func (b *Builder) WithOAuth2(ctx context.Context, tokenURL, clientID, clientSecret, scopes string, opts ...oauth2client.Option) *Builder {
	b.tokenSource = oauth2client.NewTokenManager(ctx, tokenURL, clientID, clientSecret, scopes, opts...)
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the client timeout. Default is 30 seconds; zero disables it.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport sets a custom base transport. TLS options are ignored when it is set.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// Build constructs the HTTP client with the configured options.
func (b *Builder) Build() (*http.Client, error) {
	transport := b.baseTransport
	if transport == nil {
		var err error
		transport, err = b.defaultTransport()
		if err != nil {
			return nil, err
		}
	}

	if b.tokenSource != nil {
		transport = NewBearerTransport(b.tokenSource, transport)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}
	if !b.followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// BuildTransport builds the client and wraps it in an HTTPTransport for use with New.
func (b *Builder) BuildTransport() (*HTTPTransport, error) {
	client, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewHTTPTransport(client), nil
}

func (b *Builder) defaultTransport() (http.RoundTripper, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		// A replaced default transport (e.g. a test stub) is used as is.
		return http.DefaultTransport, nil
	}

	httpTransport := base.Clone()
	if b.tlsEnabled || b.tlsSkipVerify {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
		}
		httpTransport.TLSClientConfig = tlsConfig
	} else {
		httpTransport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return httpTransport, nil
}

// buildTLSConfig constructs the TLS configuration for the HTTP client.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	return tlsconfig.Client(tlsconfig.Files{
		CAFile:             b.tlsCAFile,
		CertFile:           b.tlsCertFile,
		KeyFile:            b.tlsKeyFile,
		InsecureSkipVerify: b.tlsSkipVerify,
	})
}

// NewHTTPClient creates a plain *http.Client authenticating with src.
// For more configuration options, use Builder instead.
func NewHTTPClient(src oauth2client.TokenSource) *http.Client {
	return &http.Client{
		Transport: NewBearerTransport(src, nil),
		Timeout:   30 * time.Second,
	}
}
