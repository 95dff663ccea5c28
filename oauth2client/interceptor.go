package oauth2client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// "authorization: Bearer <token>" to the outgoing metadata.
//
// If the call fails with codes.Unauthenticated and src is Revocable, the token is
// invalidated and the call is re-invoked exactly once with a fresh token.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(oauth2client.UnaryClientInterceptor(tm)),
//	)
func UnaryClientInterceptor(src TokenSource) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		retried := false
		for {
			authCtx, err := withBearer(ctx, src)
			if err != nil {
				return err
			}

			err = invoker(authCtx, method, req, reply, cc, opts...)
			if err == nil || retried || status.Code(err) != codes.Unauthenticated {
				return err
			}

			revocable, ok := src.(Revocable)
			if !ok {
				return err
			}
			if invErr := revocable.InvalidateToken(ctx); invErr != nil {
				return fmt.Errorf("oauth2: failed to invalidate token: %w", invErr)
			}
			retried = true
		}
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that adds
// "authorization: Bearer <token>" to the outgoing metadata. Streams are not retried.
func StreamClientInterceptor(src TokenSource) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		authCtx, err := withBearer(ctx, src)
		if err != nil {
			return nil, err
		}
		return streamer(authCtx, desc, cc, method, opts...)
	}
}

// UnaryClientInterceptor is shorthand for the package-level UnaryClientInterceptor(tm).
func (tm *TokenManager) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return UnaryClientInterceptor(tm)
}

// StreamClientInterceptor is shorthand for the package-level StreamClientInterceptor(tm).
func (tm *TokenManager) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return StreamClientInterceptor(tm)
}

func withBearer(ctx context.Context, src TokenSource) (context.Context, error) {
	if src == nil {
		return ctx, nil
	}

	token, err := src.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("oauth2: failed to get token: %w", err)
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), nil
}
