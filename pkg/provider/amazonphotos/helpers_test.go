package amazonphotos

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCredentials(t *testing.T) Credentials {
	t.Helper()
	creds, err := NewCredentials(
		Cookie{Name: CookieSessionID, Value: "133-0000000-0000000"},
		Cookie{Name: CookieUBID, Value: "ubid-value"},
		Cookie{Name: CookieAT, Value: "at-value"},
	)
	require.NoError(t, err)
	return creds
}

// upstream is a fake Amazon Photos backend. Routes are registered by each
// test; discovery is wired by default and counts its hits.
type upstream struct {
	mux       *http.ServeMux
	srv       *httptest.Server
	discovery atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{mux: http.NewServeMux()}
	u.srv = httptest.NewServer(u.mux)
	t.Cleanup(u.srv.Close)

	u.mux.HandleFunc("GET /discovery", func(w http.ResponseWriter, r *http.Request) {
		u.discovery.Add(1)
		writeJSON(w, map[string]string{
			"contentUrl":  u.srv.URL + "/content/",
			"metadataUrl": u.srv.URL + "/meta/",
		})
	})
	return u
}

func (u *upstream) provider(t *testing.T, mutate ...func(*Config)) *Provider {
	t.Helper()
	cfg := Config{
		Credentials:        testCredentials(t),
		DiscoveryURL:       u.srv.URL + "/discovery",
		DefaultContentURL:  u.srv.URL + "/default-content",
		DefaultMetadataURL: u.srv.URL + "/default-meta",
		ThumbnailURL:       u.srv.URL + "/thumbs",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
