package oauth2client_test

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/AmmannChristian/go-apiclient/tokencache"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024

var (
	bufListener = bufconn.Listen(bufSize)
	bufServer   = grpc.NewServer()
	bufOnce     sync.Once
)

func startBufServer() {
	bufOnce.Do(func() {
		go func() {
			_ = bufServer.Serve(bufListener)
		}()
	})
}

func dialBufConn(opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	startBufServer()

	dialOpts := []grpc.DialOption{
		grpc.WithContextDialer(func(c context.Context, _ string) (net.Conn, error) {
			select {
			case <-c.Done():
				return nil, c.Err()
			default:
			}
			return bufListener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	dialOpts = append(dialOpts, opts...)
	return grpc.NewClient("bufnet", dialOpts...)
}

func newExampleTokenServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"example-token","token_type":"Bearer","expires_in":3600}`)
	}))
}

// Example demonstrates a TokenManager feeding gRPC interceptors.
func Example() {
	tm := oauth2client.NewTokenManager(
		context.Background(),
		"https://auth.example.com/oauth2/token",
		"client-id",
		"client-secret",
		"",
	)

	conn, err := dialBufConn(
		grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(tm)),
		grpc.WithStreamInterceptor(oauth2client.StreamClientInterceptor(tm)),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	fmt.Println("gRPC client configured with OAuth2 authentication")
	// Output: gRPC client configured with OAuth2 authentication
}

// ExampleNewTokenManager shows the cache key a manager uses.
func ExampleNewTokenManager() {
	tm := oauth2client.NewTokenManager(
		context.Background(),
		"http://localhost/oauth2/token",
		"client_id",
		"client_secret",
		"",
		oauth2client.WithMaxTokenTTL(time.Minute),
	)

	fmt.Println(tm.CacheKey())
	fmt.Println(tm.MaxTokenTTL())
	// Output:
	// oauth_api_client|http://localhost/oauth2/token|client_id
	// 1m0s
}

// ExampleTokenManager_Token exchanges client credentials once and reuses the cached token.
func ExampleTokenManager_Token() {
	server := newExampleTokenServer()
	defer server.Close()

	tm := oauth2client.NewTokenManager(
		context.Background(),
		server.URL+"/oauth2/token",
		"client-id",
		"client-secret",
		"",
		oauth2client.WithCache(tokencache.NewMemoryStore()),
	)

	token, err := tm.Token(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
	// Output: example-token
}

// ExampleTokenManager_InvalidateToken drops the cached token before the next exchange.
func ExampleTokenManager_InvalidateToken() {
	server := newExampleTokenServer()
	defer server.Close()

	tm := oauth2client.NewTokenManager(context.Background(), server.URL+"/oauth2/token", "client-id", "client-secret", "")

	if _, err := tm.Token(context.Background()); err != nil {
		log.Fatal(err)
	}
	if err := tm.InvalidateToken(context.Background()); err != nil {
		log.Fatal(err)
	}

	fmt.Println("token invalidated")
	// Output: token invalidated
}

// ExampleStaticToken shows a token obtained elsewhere.
func ExampleStaticToken() {
	var src oauth2client.TokenSource = oauth2client.StaticToken("abc123")

	token, _ := src.Token(context.Background())
	_, revocable := src.(oauth2client.Revocable)

	fmt.Println(token, revocable)
	// Output: abc123 false
}
