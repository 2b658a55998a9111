// Package homebox speaks to a self-hosted Homebox inventory server over its
// v1 REST API. The Client wraps request plumbing (bearer auth, JSON codec,
// timeouts, the single 401 refresh-and-retry) and exposes typed endpoint
// helpers for the coordinator and action layer.
package homebox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"homeboxbridge/internal/metrics"
)

// TokenSource supplies bearer tokens for authenticated requests.
// *AuthManager is the production implementation.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client issues authenticated requests against the Homebox API.
type Client struct {
	baseURL string
	tokens  TokenSource
	httpc   *http.Client
	logger  *zap.Logger
}

// NewClient creates a Homebox API client. baseURL is scheme://host without
// the /api/v1 suffix. The http.Client must carry a finite timeout so a hung
// endpoint cannot stall the refresh cycle.
func NewClient(baseURL string, tokens TokenSource, httpc *http.Client, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc:   httpc,
		logger:  logger,
	}
}

// Do issues one authenticated request. On a 401 it refreshes the token and
// retries exactly once; a second 401 surfaces as AuthError so callers never
// loop on refresh. The decoded 2xx body is stored into out when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.tokens.EnsureToken(ctx)
	if err != nil {
		return err
	}

	raw, err := c.doOnce(ctx, method, path, token, body)
	if IsUnauthorized(err) {
		c.logger.Warn("Request rejected with 401, refreshing token and retrying once",
			zap.String("method", method), zap.String("path", path))
		token, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		raw, err = c.doOnce(ctx, method, path, token, body)
		if IsUnauthorized(err) {
			var apiErr *RemoteAPIError
			errors.As(err, &apiErr)
			return &AuthError{Status: apiErr.Status, Body: apiErr.Body, Reason: "request still unauthorized after token refresh"}
		}
	}
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, path, token string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(method, "error").Inc()
		return nil, &ConnectionError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(method, "error").Inc()
		return nil, &ConnectionError{URL: url, Err: err}
	}
	metrics.RemoteRequests.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteAPIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respBody)),
		}
	}
	return respBody, nil
}

// FetchItems retrieves all items, tolerating both the bare-list and the
// paginated {"items": [...]} response shapes.
func (c *Client) FetchItems(ctx context.Context) ([]Item, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, "/api/v1/items", nil, &raw); err != nil {
		return nil, err
	}
	var items []Item
	var envelope itemsEnvelope
	if err := decodeList(raw, &items, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected items response format: %w", err)
	}
	if items == nil {
		items = envelope.Items
	}
	for i := range items {
		normalizeItem(&items[i])
	}
	return items, nil
}

// FetchLocations retrieves all locations, tolerating both response shapes.
func (c *Client) FetchLocations(ctx context.Context) ([]Location, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, "/api/v1/locations", nil, &raw); err != nil {
		return nil, err
	}
	var locations []Location
	var envelope locationsEnvelope
	if err := decodeList(raw, &locations, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected locations response format: %w", err)
	}
	if locations == nil {
		locations = envelope.Locations
	}
	return locations, nil
}

// FetchLabels retrieves all labels, tolerating both response shapes.
func (c *Client) FetchLabels(ctx context.Context) ([]Label, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, http.MethodGet, "/api/v1/labels", nil, &raw); err != nil {
		return nil, err
	}
	var labels []Label
	var envelope labelsEnvelope
	if err := decodeList(raw, &labels, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected labels response format: %w", err)
	}
	if labels == nil {
		labels = envelope.Labels
	}
	return labels, nil
}

// GetItem retrieves a single item by id.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.Do(ctx, http.MethodGet, "/api/v1/items/"+itemID, nil, &item); err != nil {
		return nil, err
	}
	normalizeItem(&item)
	return &item, nil
}

// UpdateItem writes the full item document back. The Homebox API requires
// full-document updates, so callers must merge changes into a fresh read.
func (c *Client) UpdateItem(ctx context.Context, item *Item) error {
	return c.Do(ctx, http.MethodPut, "/api/v1/items/"+item.ID, item, nil)
}

// CreateItem creates a new item and returns it as stored by the server.
func (c *Client) CreateItem(ctx context.Context, req *CreateItemRequest) (*Item, error) {
	var item Item
	if err := c.Do(ctx, http.MethodPost, "/api/v1/items", req, &item); err != nil {
		return nil, err
	}
	normalizeItem(&item)
	return &item, nil
}

// CreateLocation creates a new location and returns it as stored.
func (c *Client) CreateLocation(ctx context.Context, req *CreateLocationRequest) (*Location, error) {
	var location Location
	if err := c.Do(ctx, http.MethodPost, "/api/v1/locations", req, &location); err != nil {
		return nil, err
	}
	return &location, nil
}

// UpdateLocation renames or re-describes an existing location.
func (c *Client) UpdateLocation(ctx context.Context, location *Location) error {
	return c.Do(ctx, http.MethodPut, "/api/v1/locations/"+location.ID, location, nil)
}

// normalizeItem flattens the nested location object some server versions
// return instead of locationId.
func normalizeItem(item *Item) {
	if item.LocationID == "" && item.Location != nil {
		item.LocationID = item.Location.ID
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
