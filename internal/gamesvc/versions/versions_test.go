package versions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	data map[string][]string
	ttl  time.Duration
}

func (c *memCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, versions []string, ttl time.Duration) error {
	c.data[key] = versions
	c.ttl = ttl
	return nil
}

func hubServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/v2/repositories/factoriotools/factorio/tags", r.URL.Path)

		page := map[string]any{}
		if r.URL.Query().Get("page") == "2" {
			page["results"] = []map[string]string{{"name": "0.17.79"}, {"name": "stable"}, {"name": "1.0"}}
		} else {
			page["next"] = srv.URL + "/v2/repositories/factoriotools/factorio/tags?page=2"
			page["results"] = []map[string]string{{"name": "1.1.9"}, {"name": "latest"}, {"name": "1.1.100"}, {"name": "1.1.100-dev"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFilter(t *testing.T) {
	got := Filter([]string{"1.1.9", "stable", "1.1.100", "latest", "0.18.0", "1.1", "1.1.9", "2.0.0-rc1"})
	assert.Equal(t, []string{"latest", "1.1.100", "1.1.9", "0.18.0"}, got)
}

func TestVersionsFollowsPagesAndCaches(t *testing.T) {
	var hits int32
	srv := hubServer(t, &hits)
	cache := &memCache{data: map[string][]string{}}
	lister := NewLister("factoriotools/factorio", cache, 0).WithBaseURL(srv.URL)

	versions, err := lister.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"latest", "1.1.100", "1.1.9", "0.17.79"}, versions)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, DefaultCacheTTL, cache.ttl)

	again, err := lister.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, versions, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestVersionsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewLister("factoriotools/factorio", nil, 0).WithBaseURL(srv.URL).Versions(context.Background())
	assert.Error(t, err)
}

func TestVersionsRefusesForeignNextPage(t *testing.T) {
	var foreignHits int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&foreignHits, 1)
		_, _ = w.Write([]byte(`{"results":[{"name":"9.9.9"}]}`))
	}))
	t.Cleanup(foreign.Close)

	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := map[string]any{
			"next":    foreign.URL + "/v2/repositories/factoriotools/factorio/tags?page=2",
			"results": []map[string]string{{"name": "1.1.100"}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	t.Cleanup(hub.Close)

	lister := NewLister("factoriotools/factorio", &memCache{data: map[string][]string{}}, 0).WithBaseURL(hub.URL)
	_, err := lister.Versions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
	assert.Zero(t, atomic.LoadInt32(&foreignHits))
}

func TestNextPage(t *testing.T) {
	first, err := url.Parse("https://hub.docker.com/v2/repositories/factoriotools/factorio/tags?page_size=100")
	require.NoError(t, err)

	next, err := nextPage(first, "")
	require.NoError(t, err)
	assert.Empty(t, next)

	next, err = nextPage(first, "https://hub.docker.com/v2/repositories/factoriotools/factorio/tags?page=2&page_size=100")
	require.NoError(t, err)
	assert.Equal(t, "https://hub.docker.com/v2/repositories/factoriotools/factorio/tags?page=2&page_size=100", next)

	next, err = nextPage(first, "/v2/repositories/factoriotools/factorio/tags?page=3")
	require.NoError(t, err)
	assert.Equal(t, "https://hub.docker.com/v2/repositories/factoriotools/factorio/tags?page=3", next)

	for _, bad := range []string{
		"http://hub.docker.com/v2/repositories/factoriotools/factorio/tags?page=2",
		"https://169.254.169.254/latest/meta-data",
		"https://hub.docker.com/v2/users/login",
	} {
		_, err := nextPage(first, bad)
		assert.Error(t, err, bad)
	}
}
