// Package grpcclient provides a fluent builder for gRPC client connections that authenticate
// with an oauth2client.TokenSource.
//
// Every unary and streaming call carries "authorization: Bearer <token>". When the source is
// revocable (for example an *oauth2client.TokenManager) and a unary call fails with
// codes.Unauthenticated, the token is invalidated and the call is retried once.
//
// Connections default to TLS 1.2+ with system roots. WithTLS supplies a custom CA, client
// certificates for mTLS and a server name override; WithPlaintext is meant for local
// development only.
//
// # Quick Start
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("server.example.com:9090").
//	    WithOAuth2(
//	        "https://auth.example.com/oauth2/token",
//	        "client-id",
//	        "client-secret",
//	        "",
//	        oauth2client.WithCache(store),
//	    ).
//	    WithTLS("/path/to/ca.crt", "", "", "server.example.com").
//	    Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewYourServiceClient(conn)
package grpcclient
