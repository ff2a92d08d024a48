package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New("http://localhost:8090/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", c.baseURL)
}

func TestNew_EmptyBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestClient_Pools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/pools", r.URL.Path)
		_ = json.NewEncoder(w).Encode(PoolsResponse{
			Pools:      map[string][]NodeInfo{"default": {{Ident: "node-1", Pool: "default"}}},
			PoolCount:  1,
			TotalNodes: 1,
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	resp, err := c.Pools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resp.PoolCount)
	assert.Equal(t, "node-1", resp.Pools["default"][0].Ident)
}

func TestClient_Pool_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Not Found", "message": "pool not found"})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Pool(context.Background(), "ghost")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Bus: "connected", Ident: "node-1", Pool: "default"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("secret"))
	require.NoError(t, err)

	resp, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Status)
}

func TestClient_AppliesAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("secret-token"))
	require.NoError(t, err)

	_, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}
