package homebox

import "encoding/json"

// Item is an inventory item as returned by the Homebox API. Some server
// versions nest the location object instead of sending locationId, so both
// forms are accepted and flattened by normalize.
type Item struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Quantity      int               `json:"quantity,omitempty"`
	AssetID       string            `json:"assetId,omitempty"`
	PurchasePrice float64           `json:"purchasePrice,omitempty"`
	LocationID    string            `json:"locationId,omitempty"`
	Location      *Location         `json:"location,omitempty"`
	LabelIDs      []string          `json:"labelIds,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	LinkedItemIDs []string          `json:"linkedItemIds,omitempty"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

// Location is a node in the Homebox location tree.
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

// Label is attached to items by id.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateItemRequest is the body for POST /api/v1/items.
type CreateItemRequest struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	LocationID    string            `json:"locationId"`
	Quantity      int               `json:"quantity,omitempty"`
	AssetID       string            `json:"assetId,omitempty"`
	PurchasePrice float64           `json:"purchasePrice,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	LabelIDs      []string          `json:"labelIds,omitempty"`
}

// CreateLocationRequest is the body for POST /api/v1/locations.
type CreateLocationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// itemsEnvelope handles the paginated response shape {"items": [...]}.
type itemsEnvelope struct {
	Items []Item `json:"items"`
}

// locationsEnvelope handles the paginated response shape {"locations": [...]}.
type locationsEnvelope struct {
	Locations []Location `json:"locations"`
}

// labelsEnvelope handles the paginated response shape {"labels": [...]}.
type labelsEnvelope struct {
	Labels []Label `json:"labels"`
}

// decodeList decodes either a bare JSON array or an enveloped object into
// out, trying the bare form first. envelope must point at a struct whose
// single field carries the list.
func decodeList(raw json.RawMessage, bare interface{}, envelope interface{}) error {
	if err := json.Unmarshal(raw, bare); err == nil {
		return nil
	}
	return json.Unmarshal(raw, envelope)
}
