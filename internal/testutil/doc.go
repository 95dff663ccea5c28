// Package testutil provides test helpers shared by go-apiclient packages.
//
// # Utilities
//
//   - NewLocalHTTPServer: start an httptest server bound to 127.0.0.1
//   - APIServer and Reply: a scripted API server that records every request
//   - SpyStore: a tokencache.Store wrapper recording fetch and delete calls
//   - MintJWT: HS256 access tokens with a chosen exp claim
//
// The token endpoint and certificate helpers live in the public testutil package.
package testutil
