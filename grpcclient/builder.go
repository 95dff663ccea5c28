package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/AmmannChristian/go-apiclient/internal/tlsconfig"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Builder provides a fluent interface for constructing gRPC client connections
// that authenticate with an oauth2client.TokenSource.
type Builder struct {
	address string

	// Authentication
	tokenSource        oauth2client.TokenSource
	oauth2Enabled      bool
	oauth2TokenURL     string
	oauth2ClientID     string
	oauth2ClientSecret string
	oauth2Scopes       string
	oauth2Opts         []oauth2client.Option

	// Transport security
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string
	plaintext     bool

	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "server.example.com:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithTokenSource authenticates every call with src. Revocable sources are invalidated
// and the call is retried once when the server answers codes.Unauthenticated.
func (b *Builder) WithTokenSource(src oauth2client.TokenSource) *Builder {
	b.tokenSource = src
	b.oauth2Enabled = false
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication. The TokenManager is
// created in Build with the context passed there.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes, may be empty
//   - opts: TokenManager options such as oauth2client.WithCache
func (b *Builder) WithOAuth2(tokenURL, clientID, clientSecret, scopes string, opts ...oauth2client.Option) *Builder {
	b.oauth2Enabled = true
	b.tokenSource = nil
	b.oauth2TokenURL = tokenURL
	b.oauth2ClientID = clientID
	b.oauth2ClientSecret = clientSecret
	b.oauth2Scopes = scopes
	b.oauth2Opts = opts
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
//   - serverName: Expected server name for TLS verification (optional, overrides SNI)
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tlsEnabled = true
	b.plaintext = false
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithPlaintext disables transport security. Bearer tokens are then sent in clear text,
// so use it only for local development and tests.
func (b *Builder) WithPlaintext() *Builder {
	b.plaintext = true
	b.tlsEnabled = false
	return b
}

// WithDialOptions adds custom gRPC dial options.
// These options are applied after authentication and TLS options.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build constructs the gRPC client connection with the configured options.
// No network I/O happens until the first call.
func (b *Builder) Build(ctx context.Context) (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}

	var opts []grpc.DialOption

	src, err := b.resolveTokenSource(ctx)
	if err != nil {
		return nil, err
	}
	if src != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(src)),
			grpc.WithStreamInterceptor(oauth2client.StreamClientInterceptor(src)),
		)
	}

	switch {
	case b.plaintext:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case b.tlsEnabled:
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	default:
		// System roots, TLS 1.2 minimum.
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	opts = append(opts, b.dialOpts...)

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}

	return conn, nil
}

// resolveTokenSource returns the explicit token source, a new TokenManager when OAuth2
// is enabled, or nil for unauthenticated connections.
func (b *Builder) resolveTokenSource(ctx context.Context) (oauth2client.TokenSource, error) {
	if b.tokenSource != nil {
		return b.tokenSource, nil
	}
	if !b.oauth2Enabled {
		return nil, nil
	}
	if err := b.validateOAuth2Config(); err != nil {
		return nil, err
	}
	return oauth2client.NewTokenManager(
		ctx,
		b.oauth2TokenURL,
		b.oauth2ClientID,
		b.oauth2ClientSecret,
		b.oauth2Scopes,
		b.oauth2Opts...,
	), nil
}

// validateOAuth2Config ensures OAuth2 configuration is complete.
func (b *Builder) validateOAuth2Config() error {
	if b.oauth2TokenURL == "" {
		return errors.New("grpcclient: OAuth2 token URL is required")
	}
	if b.oauth2ClientID == "" {
		return errors.New("grpcclient: OAuth2 client ID is required")
	}
	if b.oauth2ClientSecret == "" {
		return errors.New("grpcclient: OAuth2 client secret is required")
	}
	return nil
}

func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	return tlsconfig.Client(tlsconfig.Files{
		CAFile:     b.tlsCAFile,
		CertFile:   b.tlsCertFile,
		KeyFile:    b.tlsKeyFile,
		ServerName: b.tlsServerName,
	})
}
