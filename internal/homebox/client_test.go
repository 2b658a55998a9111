package homebox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticTokens is a TokenSource with canned behavior for client tests.
type staticTokens struct {
	token        string
	refreshed    string
	refreshCalls atomic.Int32
	refreshErr   error
}

func (s *staticTokens) EnsureToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *staticTokens) Refresh(ctx context.Context) (string, error) {
	s.refreshCalls.Add(1)
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.token = s.refreshed
	return s.refreshed, nil
}

func newTestClient(t *testing.T, handler http.Handler, tokens TokenSource) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, tokens, &http.Client{Timeout: 5 * time.Second}, zap.NewNop())
	return client, srv
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	var requests atomic.Int32
	tokens := &staticTokens{token: "stale-token", refreshed: "fresh-token"}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") == "Bearer fresh-token" {
			json.NewEncoder(w).Encode([]Item{{ID: "i1", Name: "Beans"}})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}), tokens)

	items, err := client.FetchItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Beans", items[0].Name)
	assert.Equal(t, int32(1), tokens.refreshCalls.Load())
	assert.Equal(t, int32(2), requests.Load())
}

func TestDoSecond401SurfacesAuthError(t *testing.T) {
	tokens := &staticTokens{token: "bad-token", refreshed: "still-bad-token"}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), tokens)

	_, err := client.FetchItems(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	// Exactly one refresh: no retry loop.
	assert.Equal(t, int32(1), tokens.refreshCalls.Load())
}

func TestDoNon2xxIsRemoteAPIError(t *testing.T) {
	tokens := &staticTokens{token: "ok-token"}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "location tree cycle", http.StatusUnprocessableEntity)
	}), tokens)

	_, err := client.FetchLocations(context.Background())
	var apiErr *RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Contains(t, apiErr.Body, "location tree cycle")
	assert.Equal(t, int32(0), tokens.refreshCalls.Load())
}

func TestDoConnectionErrorWraps(t *testing.T) {
	tokens := &staticTokens{token: "ok-token"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	client := NewClient(srv.URL, tokens, &http.Client{Timeout: time.Second}, zap.NewNop())

	_, err := client.FetchItems(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.NotNil(t, errors.Unwrap(connErr))
}

func TestFetchItemsAcceptsBothResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare list", `[{"id":"i1","name":"Beans","locationId":"l1"}]`},
		{"paginated envelope", `{"items":[{"id":"i1","name":"Beans","locationId":"l1"}],"total":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &staticTokens{token: "ok-token"}
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}), tokens)

			items, err := client.FetchItems(context.Background())
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "i1", items[0].ID)
			assert.Equal(t, "l1", items[0].LocationID)
		})
	}
}

func TestFetchItemsFlattensNestedLocation(t *testing.T) {
	tokens := &staticTokens{token: "ok-token"}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"i1","name":"Beans","location":{"id":"l1","name":"Pantry"}}]`))
	}), tokens)

	items, err := client.FetchItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "l1", items[0].LocationID)
}

func TestUpdateItemSendsFullDocument(t *testing.T) {
	tokens := &staticTokens{token: "ok-token"}
	var got Item
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/items/i1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}), tokens)

	item := &Item{
		ID:         "i1",
		Name:       "Beans",
		LocationID: "l2",
		Fields:     map[string]string{"coffee": "Colombian", "color": "red"},
	}
	require.NoError(t, client.UpdateItem(context.Background(), item))
	assert.Equal(t, "l2", got.LocationID)
	assert.Equal(t, "Colombian", got.Fields["coffee"])
	assert.Equal(t, "red", got.Fields["color"], "unrelated fields survive the round trip")
}

func TestCreateLocation(t *testing.T) {
	tokens := &staticTokens{token: "ok-token"}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/locations", r.URL.Path)
		var req CreateLocationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(Location{ID: "l9", Name: req.Name, Description: req.Description})
	}), tokens)

	loc, err := client.CreateLocation(context.Background(), &CreateLocationRequest{
		Name:        "Garage",
		Description: "Synchronized from Home Assistant area: Garage",
	})
	require.NoError(t, err)
	assert.Equal(t, "l9", loc.ID)
	assert.Equal(t, "Garage", loc.Name)
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(&RemoteAPIError{Status: 401}))
	assert.False(t, IsUnauthorized(&RemoteAPIError{Status: 500}))
	assert.False(t, IsUnauthorized(nil))
	assert.False(t, IsUnauthorized(errors.New("plain")))
}
