package ha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StateClient pushes entity states into Home Assistant over its REST API.
// The WebSocket API has no state-set command, so the bridge publishes
// sensors through POST /api/states/{entity_id}.
type StateClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *zap.Logger
}

// NewStateClient creates a REST state publisher. baseURL is the plain HTTP
// base of the Home Assistant instance (e.g. http://homeassistant:8123).
func NewStateClient(baseURL, token string, logger *zap.Logger) *StateClient {
	return &StateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// SetState creates or updates the state of an entity.
func (c *StateClient) SetState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error {
	body, err := json.Marshal(EntityState{State: state, Attributes: attributes})
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", entityID, err)
	}

	url := c.baseURL + "/api/states/" + entityID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build state request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to set state for %s: %w", entityID, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("setting state for %s returned HTTP %d: %s",
			entityID, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	c.logger.Debug("Entity state set", zap.String("entity_id", entityID), zap.String("state", state))
	return nil
}
