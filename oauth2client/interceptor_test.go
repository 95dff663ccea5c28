package oauth2client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	pubtestutil "github.com/AmmannChristian/go-apiclient/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// recordingInvoker returns an invoker that records the bearer values it sees and
// answers with the given errors in order, then nil.
func recordingInvoker(seen *[]string, results ...error) grpc.UnaryInvoker {
	return func(ctx context.Context, _ string, _, _ interface{}, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		*seen = append(*seen, md.Get("authorization")...)

		n := len(*seen) - 1
		if n < len(results) {
			return results[n]
		}
		return nil
	}
}

func TestUnaryClientInterceptor_AddsBearer(t *testing.T) {
	var seen []string
	interceptor := UnaryClientInterceptor(StaticToken("abc"))

	err := interceptor(context.Background(), "/svc/Method", nil, nil, nil, recordingInvoker(&seen))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer abc"}, seen)
}

func TestUnaryClientInterceptor_RetriesOnceWithFreshToken(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "secret", "")

	var seen []string
	unauthenticated := status.Error(codes.Unauthenticated, "expired")

	err := tm.UnaryClientInterceptor()(context.Background(), "/svc/Method", nil, nil, nil,
		recordingInvoker(&seen, unauthenticated))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-2"}, seen)
	assert.Equal(t, 2, endpoint.Exchanges())
}

func TestUnaryClientInterceptor_GivesUpAfterSecondUnauthenticated(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "secret", "")

	var seen []string
	unauthenticated := status.Error(codes.Unauthenticated, "expired")

	err := UnaryClientInterceptor(tm)(context.Background(), "/svc/Method", nil, nil, nil,
		recordingInvoker(&seen, unauthenticated, unauthenticated, unauthenticated))
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Len(t, seen, 2)
}

func TestUnaryClientInterceptor_NoRetryForStaticToken(t *testing.T) {
	var seen []string
	unauthenticated := status.Error(codes.Unauthenticated, "expired")

	err := UnaryClientInterceptor(StaticToken("abc"))(context.Background(), "/svc/Method", nil, nil, nil,
		recordingInvoker(&seen, unauthenticated))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Len(t, seen, 1)
}

func TestUnaryClientInterceptor_NoRetryForOtherCodes(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "secret", "")

	var seen []string
	err := UnaryClientInterceptor(tm)(context.Background(), "/svc/Method", nil, nil, nil,
		recordingInvoker(&seen, status.Error(codes.PermissionDenied, "nope")))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, endpoint.Exchanges())
}

func TestInterceptors_TokenFetchError(t *testing.T) {
	endpoint := pubtestutil.NewTokenEndpoint(t)
	endpoint.FailWith(http.StatusUnauthorized)
	tm := NewTokenManager(context.Background(), endpoint.TokenURL(), "client", "secret", "")

	err := UnaryClientInterceptor(tm)(context.Background(), "/test", nil, nil, nil,
		func(context.Context, string, interface{}, interface{}, *grpc.ClientConn, ...grpc.CallOption) error {
			t.Error("invoker should not be called when token fetch fails")
			return nil
		})
	require.Error(t, err)

	_, err = StreamClientInterceptor(tm)(context.Background(), &grpc.StreamDesc{}, nil, "/test",
		func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
			t.Error("streamer should not be called when token fetch fails")
			return nil, nil
		})
	require.Error(t, err)
}

func TestStreamClientInterceptor_AddsBearer(t *testing.T) {
	var got []string
	streamer := func(ctx context.Context, _ *grpc.StreamDesc, _ *grpc.ClientConn, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get("authorization")
		return nil, nil
	}

	_, err := StreamClientInterceptor(TokenFunc(func(context.Context) (string, error) {
		return "from-func", nil
	}))(context.Background(), &grpc.StreamDesc{}, nil, "/svc/Stream", streamer)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer from-func"}, got)
}

func TestUnaryClientInterceptor_InvalidateError(t *testing.T) {
	src := &failingRevocable{}
	var seen []string

	err := UnaryClientInterceptor(src)(context.Background(), "/svc/Method", nil, nil, nil,
		recordingInvoker(&seen, status.Error(codes.Unauthenticated, "expired")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidate)
	assert.Len(t, seen, 1)
}

var errInvalidate = errors.New("store unavailable")

type failingRevocable struct{}

func (failingRevocable) Token(context.Context) (string, error) { return "tok", nil }

func (failingRevocable) InvalidateToken(context.Context) error { return errInvalidate }
