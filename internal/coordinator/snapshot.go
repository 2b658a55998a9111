package coordinator

import (
	"strings"
	"time"

	"homeboxbridge/internal/homebox"
)

// UnknownLocation is the display name attached to items whose location
// reference does not resolve within the snapshot.
const UnknownLocation = "Unknown"

// ContentField is the recognized custom field that yields a derived content
// entity per item.
const ContentField = "coffee"

// Item is an inventory item denormalized for display: the raw record plus
// resolved location, label and linked-item names.
type Item struct {
	homebox.Item
	LocationName string       `json:"location_name"`
	LabelNames   []string     `json:"label_names,omitempty"`
	LinkedItems  []LinkedItem `json:"linked_items,omitempty"`
}

// LinkedItem is a resolved linked-item reference.
type LinkedItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Content is a derived lightweight entity describing the recognized custom
// field of one item. Recomputed every cycle, never stored separately.
type Content struct {
	ItemID   string `json:"item_id"`
	ItemName string `json:"item_name"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

// Snapshot is the coordinator's immutable per-cycle view. It is replaced
// wholesale on each cycle and never mutated in place, so concurrent readers
// always observe a consistent cross-section.
type Snapshot struct {
	Items     map[string]Item
	Locations map[string]homebox.Location
	Labels    map[string]homebox.Label
	Contents  map[string]Content
	FetchedAt time.Time
	Partial   bool
}

// LocationByName returns the location whose name matches exactly
// (case-sensitive), if any.
func (s *Snapshot) LocationByName(name string) (homebox.Location, bool) {
	for _, loc := range s.Locations {
		if loc.Name == name {
			return loc, true
		}
	}
	return homebox.Location{}, false
}

// buildSnapshot denormalizes raw items against the given location and label
// mappings. It is a pure function of its inputs: running it twice on the
// same data yields identical output. A dangling location or label reference
// degrades that one item, never the cycle.
func buildSnapshot(items []homebox.Item, locations map[string]homebox.Location, labels map[string]homebox.Label, fetchedAt time.Time, partial bool) *Snapshot {
	snap := &Snapshot{
		Items:     make(map[string]Item, len(items)),
		Locations: locations,
		Labels:    labels,
		Contents:  make(map[string]Content),
		FetchedAt: fetchedAt,
		Partial:   partial,
	}

	byID := make(map[string]homebox.Item, len(items))
	for _, raw := range items {
		byID[raw.ID] = raw
	}

	for _, raw := range items {
		item := Item{Item: raw, LocationName: UnknownLocation}
		if loc, ok := locations[raw.LocationID]; ok {
			item.LocationName = loc.Name
		}
		for _, labelID := range raw.LabelIDs {
			if label, ok := labels[labelID]; ok {
				item.LabelNames = append(item.LabelNames, label.Name)
			}
		}
		for _, linkedID := range raw.LinkedItemIDs {
			// Unresolvable links are dropped from display.
			if linked, ok := byID[linkedID]; ok {
				item.LinkedItems = append(item.LinkedItems, LinkedItem{
					ID:          linked.ID,
					Name:        linked.Name,
					Description: linked.Description,
				})
			}
		}
		snap.Items[raw.ID] = item

		for field, value := range raw.Fields {
			if strings.EqualFold(field, ContentField) {
				snap.Contents[raw.ID+"/"+ContentField] = Content{
					ItemID:   raw.ID,
					ItemName: raw.Name,
					Field:    ContentField,
					Value:    value,
				}
			}
		}
	}
	return snap
}

func locationMap(locations []homebox.Location) map[string]homebox.Location {
	out := make(map[string]homebox.Location, len(locations))
	for _, loc := range locations {
		out[loc.ID] = loc
	}
	return out
}

func labelMap(labels []homebox.Label) map[string]homebox.Label {
	out := make(map[string]homebox.Label, len(labels))
	for _, label := range labels {
		out[label.ID] = label
	}
	return out
}
