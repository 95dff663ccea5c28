package httpclient

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"

	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Client at construction.
type Option func(*clientOptions)

type clientOptions struct {
	source         oauth2client.TokenSource
	transport      Transport
	logger         logrus.FieldLogger
	metrics        *metrics.Recorder
	tracerProvider trace.TracerProvider
	tokenOptions   []oauth2client.Option
}

// WithToken authenticates with a token obtained elsewhere. An empty token disables
// authentication. The token cannot be invalidated, so 401 responses are not retried.
func WithToken(token string) Option {
	return func(o *clientOptions) {
		if token == "" {
			o.source = nil
			return
		}
		o.source = oauth2client.StaticToken(token)
	}
}

// WithTokenSource authenticates with src. If src implements oauth2client.Revocable, a 401
// response invalidates the token and the request is retried once.
func WithTokenSource(src oauth2client.TokenSource) Option {
	return func(o *clientOptions) {
		o.source = src
	}
}

// WithTransport replaces the default HTTPTransport.
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithLogger sets a logger for retries and response errors. If not set, no logging will occur.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics records every HTTP attempt and retry.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(o *clientOptions) {
		o.metrics = recorder
	}
}

// WithTracerProvider sets the provider used to trace requests. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithTokenOptions passes options to the TokenManager created by NewClientCredentials.
func WithTokenOptions(opts ...oauth2client.Option) Option {
	return func(o *clientOptions) {
		o.tokenOptions = append(o.tokenOptions, opts...)
	}
}

// RequestOptions holds the per-call settings handed to a Transport.
type RequestOptions struct {
	// Params are appended to the query string. A name already present in the request path
	// keeps its value and gains the new one.
	Params map[string]string
	// Header values replace configured headers of the same name.
	Header      http.Header
	Body        []byte
	ContentType string

	err error
}

// RequestOption configures a single request.
type RequestOption func(*RequestOptions)

// WithParams adds query parameters. Later values override earlier ones and the client's
// default params.
func WithParams(params map[string]string) RequestOption {
	return func(o *RequestOptions) {
		if o.Params == nil {
			o.Params = make(map[string]string, len(params))
		}
		maps.Copy(o.Params, params)
	}
}

// WithHeader sets a header for this request only.
func WithHeader(key, value string) RequestOption {
	return func(o *RequestOptions) {
		if o.Header == nil {
			o.Header = http.Header{}
		}
		o.Header.Set(key, value)
	}
}

// WithBody sends body with the given content type.
func WithBody(contentType string, body []byte) RequestOption {
	return func(o *RequestOptions) {
		o.Body = body
		o.ContentType = contentType
	}
}

// WithJSON sends v encoded as JSON.
func WithJSON(v any) RequestOption {
	return func(o *RequestOptions) {
		data, err := json.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("httpclient: encode json body: %w", err)
			return
		}
		o.Body = data
		o.ContentType = "application/json"
	}
}

// WithForm sends values as an urlencoded form.
func WithForm(values url.Values) RequestOption {
	return func(o *RequestOptions) {
		o.Body = []byte(values.Encode())
		o.ContentType = "application/x-www-form-urlencoded"
	}
}
