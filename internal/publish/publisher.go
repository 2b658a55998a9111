// Package publish maps coordinator snapshots onto Home Assistant sensor
// entities: one sensor per item whose state is the item's location name,
// plus one derived content sensor per recognized custom field. Only changed
// entities are re-posted; items that vanish are marked unavailable.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homeboxbridge/internal/coordinator"
	"homeboxbridge/internal/metrics"
)

// StateWriter is the slice of the HA adapter the publisher needs.
type StateWriter interface {
	SetState(ctx context.Context, entityID, state string, attributes map[string]interface{}) error
}

var entityIDUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

// Publisher pushes snapshots into Home Assistant.
type Publisher struct {
	writer StateWriter
	logger *zap.Logger

	mu        sync.Mutex
	published map[string]string // entity id -> fingerprint of last pushed payload
}

// New creates a publisher.
func New(writer StateWriter, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer:    writer,
		logger:    logger,
		published: make(map[string]string),
	}
}

type entity struct {
	id         string
	state      string
	attributes map[string]interface{}
}

// Publish pushes the snapshot's entities, skipping ones whose payload is
// unchanged since the last publish and marking vanished ones unavailable.
func (p *Publisher) Publish(ctx context.Context, snap *coordinator.Snapshot) error {
	entities := buildEntities(snap)

	// One publish at a time; the coordinator already coalesces cycles, this
	// guards manual publishes racing the cycle listener.
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.published
	next := make(map[string]string, len(entities))
	current := make(map[string]struct{}, len(entities))

	var errs error
	pushed := 0
	for _, e := range entities {
		current[e.id] = struct{}{}
		fp := fingerprint(e)
		if previous[e.id] == fp {
			next[e.id] = fp
			continue
		}
		if err := p.writer.SetState(ctx, e.id, e.state, e.attributes); err != nil {
			// Left out of next so the next cycle retries it; the entity
			// still exists, it must not be flagged unavailable below.
			errs = multierr.Append(errs, err)
			continue
		}
		next[e.id] = fp
		pushed++
	}

	for id := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		if err := p.writer.SetState(ctx, id, "unavailable", nil); err != nil {
			errs = multierr.Append(errs, err)
			next[id] = previous[id]
		}
	}

	p.published = next

	metrics.PublishedEntities.Set(float64(len(next)))
	p.logger.Debug("Snapshot published",
		zap.Int("entities", len(entities)),
		zap.Int("pushed", pushed))
	return errs
}

func buildEntities(snap *coordinator.Snapshot) []entity {
	entities := make([]entity, 0, len(snap.Items)+len(snap.Contents))

	for _, item := range snap.Items {
		attrs := map[string]interface{}{
			"id":            item.ID,
			"name":          item.Name,
			"description":   item.Description,
			"quantity":      item.Quantity,
			"location_id":   item.LocationID,
			"location_name": item.LocationName,
			"labels":        item.LabelNames,
			"fields":        item.Fields,
			"created_at":    item.CreatedAt,
			"updated_at":    item.UpdatedAt,
			"icon":          "mdi:package-variant-closed",
			"friendly_name": item.Name,
		}
		if loc, ok := snap.Locations[item.LocationID]; ok {
			attrs["location"] = map[string]interface{}{
				"id":          loc.ID,
				"name":        loc.Name,
				"description": loc.Description,
				"parent_id":   loc.ParentID,
			}
		}
		if len(item.LinkedItems) > 0 {
			attrs["linked_items"] = item.LinkedItems
		}
		entities = append(entities, entity{
			id:         ItemEntityID(item.ID),
			state:      item.LocationName,
			attributes: attrs,
		})
	}

	for _, content := range snap.Contents {
		entities = append(entities, entity{
			id:    ContentEntityID(content.ItemID),
			state: content.Value,
			attributes: map[string]interface{}{
				"item_id":       content.ItemID,
				"item_name":     content.ItemName,
				"field":         content.Field,
				"icon":          "mdi:coffee",
				"friendly_name": fmt.Sprintf("%s %s", content.ItemName, content.Field),
			},
		})
	}
	return entities
}

// ItemEntityID derives the sensor entity id for an item.
func ItemEntityID(itemID string) string {
	return "sensor.homebox_" + sanitizeEntityID(itemID)
}

// ContentEntityID derives the sensor entity id for an item's content field.
func ContentEntityID(itemID string) string {
	return "sensor.homebox_" + sanitizeEntityID(itemID) + "_" + coordinator.ContentField
}

func sanitizeEntityID(raw string) string {
	return strings.Trim(entityIDUnsafe.ReplaceAllString(strings.ToLower(raw), "_"), "_")
}

func fingerprint(e entity) string {
	encoded, err := json.Marshal(struct {
		State      string                 `json:"state"`
		Attributes map[string]interface{} `json:"attributes"`
	}{e.state, e.attributes})
	if err != nil {
		return e.state
	}
	return string(encoded)
}
