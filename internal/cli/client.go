package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/AmmannChristian/go-apiclient/httpclient"
	"github.com/AmmannChristian/go-apiclient/internal/config"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/AmmannChristian/go-apiclient/tokencache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// session is a configured API client together with the resources it holds.
type session struct {
	client *httpclient.Client
	source oauth2client.TokenSource
	closer []io.Closer
}

func (s *session) Close() error {
	var firstErr error
	for _, c := range s.closer {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newSession builds the API client described by the prepared configuration.
func (o *rootOptions) newSession(ctx context.Context) (*session, error) {
	cfg := o.cfg

	builder := httpclient.NewBuilder().WithTimeout(0)
	if cfg.TLS.Enabled() {
		builder.WithTLS(cfg.TLS.CAFile, cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if cfg.TLS.InsecureSkipVerify {
			builder.WithInsecureSkipVerify()
		}
	}
	hc, err := builder.Build()
	if err != nil {
		return nil, err
	}

	s := &session{closer: []io.Closer{}}

	source, err := o.newTokenSource(ctx, hc, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.source = source

	client := httpclient.New(cfg.BaseURL,
		httpclient.WithTokenSource(source),
		httpclient.WithTransport(httpclient.NewHTTPTransport(hc)),
		httpclient.WithLogger(o.logger),
		httpclient.WithMetrics(o.metrics),
	)
	if len(cfg.Headers) > 0 {
		header := http.Header{}
		for k, v := range cfg.Headers {
			header.Set(k, v)
		}
		client = client.Headers(header)
	}
	if len(cfg.Params) > 0 {
		client = client.Params(cfg.Params)
	}
	if cfg.Timeout > 0 {
		client = client.Timeout(cfg.Timeout)
	}
	s.client = client
	s.closer = append(s.closer, client)

	return s, nil
}

// newTokenSource returns nil when requests are sent without authentication.
func (o *rootOptions) newTokenSource(ctx context.Context, hc *http.Client, s *session) (oauth2client.TokenSource, error) {
	cfg := o.cfg

	if cfg.Token != "" {
		return oauth2client.StaticToken(cfg.Token), nil
	}
	if !cfg.UsesClientCredentials() {
		return nil, nil
	}

	store, err := o.newTokenStore(s)
	if err != nil {
		return nil, err
	}

	return oauth2client.NewTokenManager(ctx, cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes,
		oauth2client.WithCache(store),
		oauth2client.WithMaxTokenTTL(cfg.MaxTokenTTL),
		oauth2client.WithCacheKeyScope(cfg.BaseURL),
		oauth2client.WithHTTPClient(hc),
		oauth2client.WithLogger(o.logger),
		oauth2client.WithMetrics(o.metrics),
	), nil
}

func (o *rootOptions) newTokenStore(s *session) (tokencache.Store, error) {
	cfg := o.cfg.Cache

	switch cfg.Backend {
	case config.CacheNull:
		return tokencache.NullStore{}, nil
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closer = append(s.closer, rdb)
		return tokencache.NewRedisStore(rdb, tokencache.WithRedisLogger(o.logger)), nil
	case config.CacheMemory, "":
		return tokencache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newLogger(w io.Writer, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	logger.SetLevel(lvl)
	return logger
}
