package oauth2client

import "context"

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Revocable is a TokenSource whose current token can be discarded, forcing the next
// Token call to obtain a fresh one. Callers retry an unauthorized request only when
// the source implements Revocable.
type Revocable interface {
	TokenSource
	InvalidateToken(ctx context.Context) error
}

// StaticToken is a literal token obtained elsewhere. It cannot be invalidated.
type StaticToken string

// Token returns the literal token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// TokenFunc adapts a function to TokenSource. It cannot be invalidated.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

var (
	_ TokenSource = StaticToken("")
	_ TokenSource = TokenFunc(nil)
	_ Revocable   = (*TokenManager)(nil)
)
