package testutil

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/AmmannChristian/go-apiclient/tokencache"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// SigningKey is the HMAC key used by MintJWT.
var SigningKey = []byte("apiclient-test-signing-key")

// MintJWT returns an HS256 JWT whose exp claim is exp. A zero exp omits the claim.
func MintJWT(tb testing.TB, subject string, exp time.Time) string {
	tb.Helper()

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(SigningKey)
	if err != nil {
		tb.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// StoreCall is one recorded call on a SpyStore.
type StoreCall struct {
	Op  string // "fetch" or "delete"
	Key string
	TTL time.Duration
}

// SpyStore wraps a tokencache.Store and records every call made to it.
type SpyStore struct {
	inner tokencache.Store

	mu    sync.Mutex
	calls []StoreCall
}

// NewSpyStore wraps inner, or a fresh tokencache.MemoryStore when inner is nil.
func NewSpyStore(inner tokencache.Store) *SpyStore {
	if inner == nil {
		inner = tokencache.NewMemoryStore()
	}
	return &SpyStore{inner: inner}
}

// FetchOrCompute records the call and delegates.
func (s *SpyStore) FetchOrCompute(ctx context.Context, key string, ttl time.Duration, compute tokencache.ComputeFunc) (string, error) {
	s.record(StoreCall{Op: "fetch", Key: key, TTL: ttl})
	return s.inner.FetchOrCompute(ctx, key, ttl, compute)
}

// Delete records the call and delegates.
func (s *SpyStore) Delete(ctx context.Context, key string) error {
	s.record(StoreCall{Op: "delete", Key: key})
	return s.inner.Delete(ctx, key)
}

// Calls returns a copy of the recorded calls.
func (s *SpyStore) Calls() []StoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoreCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Ops returns the recorded operation names in call order.
func (s *SpyStore) Ops() []string {
	calls := s.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

func (s *SpyStore) record(call StoreCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

var _ tokencache.Store = (*SpyStore)(nil)

// RecordedRequest is a request received by an APIServer.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// Reply is a scripted APIServer response.
type Reply struct {
	Status int
	Header http.Header
	Body   string
}

// APIServer is a local API server that answers with scripted replies in order and
// repeats the last reply once the script is exhausted. An empty script answers 200 "ok".
type APIServer struct {
	URL string

	mu       sync.Mutex
	script   []Reply
	requests []RecordedRequest
}

// NewAPIServer starts an APIServer that is closed when the test ends.
func NewAPIServer(tb testing.TB, script ...Reply) *APIServer {
	tb.Helper()

	s := &APIServer{script: script}
	server := NewLocalHTTPServer(tb, http.HandlerFunc(s.serve))
	s.URL = server.URL

	return s
}

// Requests returns a copy of the recorded requests.
func (s *APIServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Authorizations returns the Authorization header of every recorded request.
func (s *APIServer) Authorizations() []string {
	reqs := s.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Header.Get("Authorization")
	}
	return out
}

func (s *APIServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	reply := Reply{Status: http.StatusOK, Body: "ok"}
	if len(s.script) > 0 {
		reply = s.script[min(n, len(s.script)-1)]
	}
	s.mu.Unlock()

	for k, vs := range reply.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.WriteHeader(reply.Status)
	_, _ = io.WriteString(w, reply.Body)
}

// CounterValue returns the value of the counter name whose labels include labels,
// or 0 if no such series has been gathered.
func CounterValue(tb testing.TB, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	tb.Helper()

	families, err := g.Gather()
	if err != nil {
		tb.Fatalf("failed to gather metrics: %v", err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
