package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSetState(t *testing.T) {
	var got EntityState
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewStateClient(srv.URL, "ha-token", zap.NewNop())
	err := c.SetState(context.Background(), "sensor.homebox_i1", "Pantry",
		map[string]interface{}{"friendly_name": "Beans"})
	require.NoError(t, err)

	assert.Equal(t, "/api/states/sensor.homebox_i1", gotPath)
	assert.Equal(t, "Bearer ha-token", gotAuth)
	assert.Equal(t, "Pantry", got.State)
	assert.Equal(t, "Beans", got.Attributes["friendly_name"])
}

func TestSetStateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewStateClient(srv.URL, "ha-token", zap.NewNop())
	err := c.SetState(context.Background(), "sensor.homebox_i1", "Pantry", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}
