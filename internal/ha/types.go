package ha

import "encoding/json"

// Message is the base WebSocket frame to/from Home Assistant.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is an error response from Home Assistant.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is the websocket authentication request.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Area is an entry from the area registry.
type Area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

// CommandRequest is a generic id+type command frame.
type CommandRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// CallServiceRequest invokes a Home Assistant service.
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// EntityState is the payload for POST /api/states/{entity_id}.
type EntityState struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}
