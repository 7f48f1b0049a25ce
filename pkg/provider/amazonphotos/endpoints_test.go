package amazonphotos

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

func TestEndpoints_DiscoversOnce(t *testing.T) {
	u := newUpstream(t)
	p := u.provider(t)

	for i := 0; i < 5; i++ {
		eps := p.Endpoints(context.Background())
		assert.Equal(t, u.srv.URL+"/content", eps.ContentURL)
		assert.Equal(t, u.srv.URL+"/meta", eps.MetadataURL)
	}
	assert.Equal(t, int32(1), u.discovery.Load())
}

func TestEndpoints_ConcurrentCallersShareDiscovery(t *testing.T) {
	u := newUpstream(t)

	var hits atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	u.mux.HandleFunc("GET /gated", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(entered)
		}
		<-release
		writeJSON(w, map[string]string{
			"contentUrl":  "https://content.example.test",
			"metadataUrl": "https://meta.example.test",
		})
	})
	p := u.provider(t, func(c *Config) { c.DiscoveryURL = u.srv.URL + "/gated" })

	const callers = 10
	results := make([]provider.Endpoints, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Endpoints(context.Background())
		}(i)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("discovery request never arrived")
	}
	// Give the remaining callers time to join the in-flight discovery.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, eps := range results {
		assert.Equal(t, "https://content.example.test", eps.ContentURL)
		assert.Equal(t, "https://meta.example.test", eps.MetadataURL)
	}
}

func TestEndpoints_FailureFallsBackToDefaults(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "no urls",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]string{"customerExists": "true"})
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpstream(t)
			var hits atomic.Int32
			u.mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			})
			p := u.provider(t, func(c *Config) {
				c.DiscoveryURL = u.srv.URL + "/broken"
				c.DiscoveryTimeout = 100 * time.Millisecond
			})

			eps := p.Endpoints(context.Background())
			assert.Equal(t, u.srv.URL+"/default-content", eps.ContentURL)
			assert.Equal(t, u.srv.URL+"/default-meta", eps.MetadataURL)

			// Defaults are cached; discovery is not retried.
			again := p.Endpoints(context.Background())
			assert.Equal(t, eps, again)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestEndpoints_PartialDocumentKeepsDefaultForMissingField(t *testing.T) {
	u := newUpstream(t)
	u.mux.HandleFunc("GET /partial", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"metadataUrl": "https://meta.example.test/drive/v1//"})
	})
	p := u.provider(t, func(c *Config) { c.DiscoveryURL = u.srv.URL + "/partial" })

	eps := p.Endpoints(context.Background())
	assert.Equal(t, u.srv.URL+"/default-content", eps.ContentURL)
	assert.Equal(t, "https://meta.example.test/drive/v1", eps.MetadataURL)
}

func TestEndpoints_CallerCancellationDoesNotPoisonCache(t *testing.T) {
	u := newUpstream(t)
	p := u.provider(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eps := p.Endpoints(ctx)
	require.Equal(t, u.srv.URL+"/content", eps.ContentURL)
	assert.Equal(t, int32(1), u.discovery.Load())
}
