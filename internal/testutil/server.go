package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AmmannChristian/go-apiclient/testutil"
)

// NewLocalHTTPServer starts an IPv4-only httptest server. See testutil.NewLocalHTTPServer.
func NewLocalHTTPServer(tb testing.TB, handler http.Handler) *httptest.Server {
	tb.Helper()
	return testutil.NewLocalHTTPServer(tb, handler)
}
