// Package oauth2client provides the token sources used to authenticate API requests.
//
// A TokenSource returns a bearer token. Sources that also implement Revocable can drop their
// current token, which lets callers recover from an unauthorized response by retrying once
// with a fresh token.
//
// # Sources
//
//   - StaticToken: a literal token supplied from elsewhere (not revocable)
//   - TokenFunc: a function returning a token (not revocable)
//   - TokenManager: OAuth2 client credentials exchange, cached in a tokencache.Store (revocable)
//
// # Caching
//
// TokenManager caches under the key "oauth_api_client|<token url>|<client id>", optionally
// followed by a scope added with WithCacheKeyScope. Entries live for at most the max token
// TTL (one hour by default) and never longer than the token's own expiry minus one minute.
// The default store is a fresh in-memory tokencache.MemoryStore; pass a shared store, for
// example a tokencache.RedisStore, to share tokens across managers or processes.
//
// # Quick Start
//
//	tm := oauth2client.NewTokenManager(
//	    ctx,
//	    "https://auth.example.com/oauth2/token",
//	    "client-id",
//	    "client-secret",
//	    "",
//	    oauth2client.WithMaxTokenTTL(30*time.Minute),
//	    oauth2client.WithLoggingEnabled(),
//	)
//
//	token, err := tm.Token(ctx)
//
// # gRPC
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(tm)),
//	    grpc.WithStreamInterceptor(oauth2client.StreamClientInterceptor(tm)),
//	)
//
// Token exchange failures are returned as *goerrors.Error values with the
// TOKEN_EXCHANGE_FAILED text code and are never retried here.
package oauth2client
