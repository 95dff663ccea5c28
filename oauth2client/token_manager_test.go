package oauth2client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AmmannChristian/go-apiclient/internal/testutil"
	"github.com/AmmannChristian/go-apiclient/metrics"
	pubtestutil "github.com/AmmannChristian/go-apiclient/testutil"
	"github.com/AmmannChristian/go-apiclient/tokencache"
	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewTokenManager(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		tokenURL     string
		clientID     string
		clientSecret string
		scopes       string
		wantScopes   []string
	}{
		{
			name:         "basic configuration",
			tokenURL:     "https://auth.example.com/token",
			clientID:     "test-client",
			clientSecret: "test-secret",
			scopes:       "openid profile",
			wantScopes:   []string{"openid", "profile"},
		},
		{
			name:         "empty scopes",
			tokenURL:     "https://auth.example.com/token",
			clientID:     "test-client",
			clientSecret: "test-secret",
			scopes:       "",
			wantScopes:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTokenManager(ctx, tt.tokenURL, tt.clientID, tt.clientSecret, tt.scopes)

			require.NotNil(t, tm)
			assert.Equal(t, tt.clientID, tm.config.ClientID)
			assert.Equal(t, tt.clientSecret, tm.config.ClientSecret)
			assert.Equal(t, tt.tokenURL, tm.config.TokenURL)
			assert.ElementsMatch(t, tt.wantScopes, tm.config.Scopes)
			assert.Equal(t, DefaultMaxTokenTTL, tm.MaxTokenTTL())
			assert.IsType(t, &tokencache.MemoryStore{}, tm.cache)
		})
	}
}

func TestNewTokenManager_NilContext(t *testing.T) {
	//lint:ignore SA1012 intentionally verify nil context falls back to background
	//nolint:staticcheck // golangci-lint
	tm := NewTokenManager(nil, "https://auth.example.com/token", "client", "secret", "")

	require.NotNil(t, tm)
	assert.NotNil(t, tm.ctx)
}

func TestTokenManager_CacheKey(t *testing.T) {
	tm := NewTokenManager(context.Background(), "http://localhost/oauth2/token", "client_id", "secret", "")
	assert.Equal(t, "oauth_api_client|http://localhost/oauth2/token|client_id", tm.CacheKey())

	scoped := NewTokenManager(context.Background(), "http://localhost/oauth2/token", "client_id", "secret", "",
		WithCacheKeyScope("https://api.example.com"))
	assert.Equal(t, "oauth_api_client|http://localhost/oauth2/token|client_id|https://api.example.com", scoped.CacheKey())
}

func TestTokenManager_Token_ExchangesOnceAndCaches(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	spy := testutil.NewSpyStore(nil)

	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "read write",
		WithCache(spy), WithMaxTokenTTL(60*time.Second))

	token1, err := tm.Token(context.Background())
	require.NoError(t, err)
	token2, err := tm.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "token-1", token1)
	assert.Equal(t, token1, token2)
	assert.Equal(t, 1, endpoint.Exchanges())

	calls := spy.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "fetch", c.Op)
		assert.Equal(t, tm.CacheKey(), c.Key)
		assert.Equal(t, 60*time.Second, c.TTL)
	}

	form := endpoint.LastForm()
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "read write", form.Get("scope"))
}

func TestTokenManager_Token_AuthStyle(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)

	inParams := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "",
		WithAuthStyle(oauth2.AuthStyleInParams))
	_, err := inParams.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client_id", endpoint.LastForm().Get("client_id"))
	assert.Equal(t, "client_secret", endpoint.LastForm().Get("client_secret"))
	assert.Empty(t, endpoint.LastAuthorization())

	inHeader := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "",
		WithAuthStyle(oauth2.AuthStyleInHeader))
	_, err = inHeader.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(endpoint.LastAuthorization(), "Basic "))
}

func TestTokenManager_InvalidateToken(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	spy := testutil.NewSpyStore(nil)
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "",
		WithCache(spy), WithMetrics(recorder))

	token1, err := tm.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, tm.InvalidateToken(context.Background()))
	token2, err := tm.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "token-1", token1)
	assert.Equal(t, "token-2", token2)
	assert.Equal(t, 2, endpoint.Exchanges())
	assert.Equal(t, []string{"fetch", "delete", "fetch"}, spy.Ops())
	assert.Equal(t, tm.CacheKey(), spy.Calls()[1].Key)

	assert.Equal(t, float64(1), testutil.CounterValue(t, reg, "apiclient_token_invalidations_total", nil))
	assert.Equal(t, float64(2), testutil.CounterValue(t, reg, "apiclient_token_exchanges_total", map[string]string{"result": "success"}))
}

func TestTokenManager_NullStoreExchangesEveryTime(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "",
		WithCache(tokencache.NullStore{}))

	for i := 0; i < 3; i++ {
		_, err := tm.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, endpoint.Exchanges())
}

func TestTokenManager_SharedStoreSharesTokens(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	store := tokencache.NewMemoryStore()

	a := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "", WithCache(store))
	b := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "client_secret", "", WithCache(store))
	other := NewTokenManager(context.Background(), endpoint.TokenURL(), "other_id", "client_secret", "", WithCache(store))

	tokenA, err := a.Token(context.Background())
	require.NoError(t, err)
	tokenB, err := b.Token(context.Background())
	require.NoError(t, err)
	tokenOther, err := other.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tokenA, tokenB)
	assert.NotEqual(t, tokenA, tokenOther)
	assert.Equal(t, 2, endpoint.Exchanges())
}

func TestTokenManager_TokenLifetimeBoundsCacheEntry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	t.Run("expires_in", func(t *testing.T) {
		endpoint := pubtestutil.NewTokenEndpoint(t, pubtestutil.WithExpiresIn(120))
		store := tokencache.NewMemoryStore(tokencache.WithClock(clock))
		tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "id", "secret", "", WithCache(store))

		_, err := tm.Token(context.Background())
		require.NoError(t, err)

		// 120s minus the one minute leeway
		now = now.Add(61 * time.Second)
		_, err = tm.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, endpoint.Exchanges())
	})

	t.Run("jwt exp claim", func(t *testing.T) {
		exp := time.Now().Add(90 * time.Second)
		endpoint := pubtestutil.NewTokenEndpoint(t,
			pubtestutil.WithExpiresIn(0),
			pubtestutil.WithTokenFunc(func(int) string { return testutil.MintJWT(t, "svc", exp) }),
		)

		tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "id", "secret", "")
		tok, err := tm.Token(context.Background())
		require.NoError(t, err)

		lifetime := tm.lifetime(&oauth2.Token{AccessToken: tok})
		assert.Greater(t, lifetime, 20*time.Second)
		assert.LessOrEqual(t, lifetime, 30*time.Second)
	})

	t.Run("opaque token without expiry", func(t *testing.T) {
		tm := NewTokenManager(context.Background(), "https://auth.example.com/token", "id", "secret", "")
		assert.Zero(t, tm.lifetime(&oauth2.Token{AccessToken: "opaque"}))
	})

	t.Run("nearly expired token keeps minimum", func(t *testing.T) {
		tm := NewTokenManager(context.Background(), "https://auth.example.com/token", "id", "secret", "")
		lifetime := tm.lifetime(&oauth2.Token{AccessToken: "opaque", Expiry: time.Now().Add(10 * time.Second)})
		assert.Equal(t, minCacheTTL, lifetime)
	})
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	assert.True(t, jwtExpiry(testutil.MintJWT(t, "svc", exp)).Equal(exp))
	assert.True(t, jwtExpiry(testutil.MintJWT(t, "svc", time.Time{})).IsZero())
	assert.True(t, jwtExpiry("not-a-jwt").IsZero())
	assert.True(t, jwtExpiry("a.b.c").IsZero())
}

func TestTokenManager_Token_ExchangeFailure(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	endpoint.FailWith(http.StatusUnauthorized)
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client_id", "bad", "",
		WithMetrics(recorder), WithAuthStyle(oauth2.AuthStyleInParams))

	_, err := tm.Token(context.Background())
	require.Error(t, err)

	var gerr *goerrors.Error
	require.True(t, goerrors.As(err, &gerr))
	assert.Equal(t, goerrors.CategoryExternal, gerr.Category)
	assert.Equal(t, TextCodeTokenExchangeFailed, gerr.TextCode)
	assert.Equal(t, http.StatusBadGateway, gerr.Code)

	var retrieveErr *oauth2.RetrieveError
	assert.True(t, errors.As(err, &retrieveErr))

	// failures are not cached
	endpoint.FailWith(0)
	token, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
	assert.Equal(t, float64(1), testutil.CounterValue(t, reg, "apiclient_token_exchanges_total", map[string]string{"result": "error"}))
}

func TestTokenManager_Token_TransportFailure(t *testing.T) {
	server := pubtestutil.NewMockOAuth2Server(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("token fetch failed")
	})
	defer server.Close()

	tm := NewTokenManager(server.Ctx, server.URL+"/token", "client", "secret", "")

	_, err := tm.GetToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token fetch failed")
}

func TestTokenManager_MockServerContextClient(t *testing.T) {
	server := pubtestutil.NewMockOAuth2Server(t, nil)
	defer server.Close()

	tm := NewTokenManager(server.Ctx, server.URL+"/token", "client", "secret", "")

	token, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock-access-token", token)

	_, err = tm.GetToken()
	require.NoError(t, err)
	assert.Equal(t, 1, server.RequestCount())
}

func TestTokenManager_Token_Concurrent(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "secret", "")

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = tm.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", tokens[i])
	}
	assert.Equal(t, 1, endpoint.Exchanges())
}

func TestTokenManager_WithLogger(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "super-secret", "", WithLogger(logger))
	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, tm.InvalidateToken(context.Background()))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "client", entries[0].Data["client_id"])
	assert.Equal(t, logrus.DebugLevel, entries[1].Level)

	for _, e := range entries {
		line, err := e.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "super-secret")
		assert.NotContains(t, line, "token-1")
	}
}

func TestTokenManager_WithLoggingEnabled_SetsLogger(t *testing.T) {
	tm := NewTokenManager(context.Background(), "https://auth.example.com/token", "client", "secret", "", WithLoggingEnabled())
	assert.Equal(t, logrus.StandardLogger(), tm.logger)
}

func TestTokenManager_WithHTTPClient(t *testing.T) {
	var used bool
	client := &http.Client{Transport: pubtestutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		used = true
		return pubtestutil.StaticJSONResponse(pubtestutil.TokenResponse("via-client", 3600))(req)
	})}

	tm := NewTokenManager(context.Background(), "https://auth.example.com/token", "client", "secret", "", WithHTTPClient(client))
	token, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "via-client", token)
	assert.True(t, used)
}

func BenchmarkTokenManager_Token_Cached(b *testing.B) {
	server := pubtestutil.NewMockOAuth2Server(b, nil)
	defer server.Close()

	tm := NewTokenManager(server.Ctx, server.URL+"/token", "client", "secret", "")
	_, _ = tm.Token(context.Background())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tm.Token(context.Background())
	}
}
