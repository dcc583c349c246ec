package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsUserAgent(t *testing.T) {
	t.Parallel()

	var captured string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := New().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, strings.HasPrefix(captured, "Contex/"), "got %q", captured)
	assert.Equal(t, UserAgent(), captured)
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := New(WithTimeout(50 * time.Millisecond)).Get(srv.URL)
	require.Error(t, err)
}
