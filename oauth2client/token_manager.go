package oauth2client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/tokencache"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultMaxTokenTTL bounds how long an exchanged token stays cached.
	DefaultMaxTokenTTL = time.Hour

	// TextCodeTokenExchangeFailed marks errors returned by the token endpoint exchange.
	TextCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"

	cacheKeyNamespace = "oauth_api_client"
	minCacheTTL       = time.Second
)

// TokenManager obtains tokens with the OAuth2 client credentials flow and caches them
// in a tokencache.Store. It is safe for concurrent access.
type TokenManager struct {
	config       *clientcredentials.Config
	cache        tokencache.Store
	cacheKey     string
	keyScope     string
	maxTokenTTL  time.Duration
	expiryLeeway time.Duration
	httpClient   *http.Client
	ctx          context.Context // fallback context for GetToken
	logger       logrus.FieldLogger
	metrics      *metrics.Recorder
}

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithCache sets the store used to cache tokens. Defaults to a new tokencache.MemoryStore.
// Use tokencache.NullStore to exchange a token on every call.
func WithCache(store tokencache.Store) Option {
	return func(tm *TokenManager) {
		if store != nil {
			tm.cache = store
		}
	}
}

// WithMaxTokenTTL bounds how long a token is cached. Defaults to DefaultMaxTokenTTL.
func WithMaxTokenTTL(ttl time.Duration) Option {
	return func(tm *TokenManager) {
		if ttl > 0 {
			tm.maxTokenTTL = ttl
		}
	}
}

// WithCacheKeyScope adds scope (usually the API base URL) to the cache key, so the same
// client id used against different APIs caches separate tokens.
func WithCacheKeyScope(scope string) Option {
	return func(tm *TokenManager) {
		tm.keyScope = scope
	}
}

// WithAuthStyle selects how client credentials are sent to the token endpoint: HTTP Basic
// (oauth2.AuthStyleInHeader) or form fields (oauth2.AuthStyleInParams). By default the
// style is auto-detected.
func WithAuthStyle(style oauth2.AuthStyle) Option {
	return func(tm *TokenManager) {
		tm.config.AuthStyle = style
	}
}

// WithHTTPClient sets the HTTP client used for token exchanges.
func WithHTTPClient(client *http.Client) Option {
	return func(tm *TokenManager) {
		tm.httpClient = client
	}
}

// WithLogger sets a custom logger for token exchange events.
// If not set, no logging will occur.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(tm *TokenManager) {
		tm.logger = logger
	}
}

// WithLoggingEnabled enables logging through the logrus standard logger.
func WithLoggingEnabled() Option {
	return func(tm *TokenManager) {
		tm.logger = logrus.StandardLogger()
	}
}

// WithMetrics records token exchanges and invalidations.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(tm *TokenManager) {
		tm.metrics = recorder
	}
}

// NewTokenManager creates a new OAuth2 token manager using client credentials flow.
//
// Parameters:
//   - ctx: fallback context for GetToken; an *http.Client stored under oauth2.HTTPClient is used for exchanges
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes, may be empty
//   - opts: Optional configuration options
func NewTokenManager(ctx context.Context, tokenURL, clientID, clientSecret, scopes string, opts ...Option) *TokenManager {
	if ctx == nil {
		ctx = context.Background()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	tm := &TokenManager{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       strings.Fields(scopes),
		},
		maxTokenTTL:  DefaultMaxTokenTTL,
		expiryLeeway: time.Minute,
		ctx:          ctx,
	}
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		tm.httpClient = hc
	}

	for _, opt := range opts {
		opt(tm)
	}

	if tm.cache == nil {
		tm.cache = tokencache.NewMemoryStore()
	}
	tm.cacheKey = buildCacheKey(tokenURL, clientID, tm.keyScope)

	return tm
}

// Token returns a cached access token or exchanges client credentials for a new one.
// Exchange failures are returned to the caller and are not retried.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = tm.ctx
	}
	return tm.cache.FetchOrCompute(ctx, tm.cacheKey, tm.maxTokenTTL, tm.exchange)
}

// GetToken returns a valid access token using the context given to NewTokenManager.
//
// Deprecated: Use Token instead to properly handle context cancellation and deadlines.
func (tm *TokenManager) GetToken() (string, error) {
	return tm.Token(tm.ctx)
}

// InvalidateToken removes the cached token so the next Token call exchanges again.
func (tm *TokenManager) InvalidateToken(ctx context.Context) error {
	if ctx == nil {
		ctx = tm.ctx
	}
	if err := tm.cache.Delete(ctx, tm.cacheKey); err != nil {
		return err
	}

	tm.metrics.IncInvalidation()
	if tm.logger != nil {
		tm.logger.WithField("token_url", tm.config.TokenURL).Debug("oauth2: invalidated cached access token")
	}
	return nil
}

// CacheKey returns the key under which this manager caches its token.
func (tm *TokenManager) CacheKey() string {
	return tm.cacheKey
}

// MaxTokenTTL returns the upper bound for cached token lifetimes.
func (tm *TokenManager) MaxTokenTTL() time.Duration {
	return tm.maxTokenTTL
}

func (tm *TokenManager) exchange(ctx context.Context) (string, time.Duration, error) {
	if tm.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)
	}

	token, err := tm.config.Token(ctx)
	if err != nil {
		tm.metrics.IncTokenExchange(false)
		wrapped := goerrors.Wrap(err, goerrors.CategoryExternal, "oauth2: failed to fetch token").
			WithCode(http.StatusBadGateway).
			WithTextCode(TextCodeTokenExchangeFailed)
		wrapped.WithMetadata(map[string]any{"token_url": tm.config.TokenURL, "client_id": tm.config.ClientID})
		return "", 0, wrapped
	}
	tm.metrics.IncTokenExchange(true)

	lifetime := tm.lifetime(token)
	if tm.logger != nil {
		tm.logger.WithFields(logrus.Fields{
			"token_url":  tm.config.TokenURL,
			"client_id":  tm.config.ClientID,
			"expires_in": lifetime.String(),
		}).Info("oauth2: obtained new access token")
	}

	return token.AccessToken, lifetime, nil
}

// lifetime reports how long token may be cached, or zero if its expiry is unknown.
// It prefers the expires_in of the token response and falls back to a JWT exp claim.
func (tm *TokenManager) lifetime(token *oauth2.Token) time.Duration {
	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = jwtExpiry(token.AccessToken)
	}
	if expiry.IsZero() {
		return 0
	}

	remaining := time.Until(expiry) - tm.expiryLeeway
	if remaining < minCacheTTL {
		remaining = minCacheTTL
	}
	return remaining
}

// jwtExpiry extracts the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time.
func jwtExpiry(accessToken string) time.Time {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func buildCacheKey(tokenURL, clientID, scope string) string {
	parts := []string{cacheKeyNamespace, tokenURL, clientID}
	if scope != "" {
		parts = append(parts, scope)
	}
	return strings.Join(parts, "|")
}
