// Package actions implements the write path: user/automation invoked
// operations that mutate the Homebox inventory and then request an
// out-of-cycle coordinator refresh so the read path catches up immediately.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"homeboxbridge/internal/coordinator"
	"homeboxbridge/internal/homebox"
	"homeboxbridge/internal/metrics"
)

// ErrNoSnapshot is returned when an action needs inventory data before the
// first successful coordinator cycle.
var ErrNoSnapshot = errors.New("no inventory snapshot available yet")

// Inventory is the slice of the Homebox client the actions need.
type Inventory interface {
	GetItem(ctx context.Context, itemID string) (*homebox.Item, error)
	UpdateItem(ctx context.Context, item *homebox.Item) error
	CreateItem(ctx context.Context, req *homebox.CreateItemRequest) (*homebox.Item, error)
	CreateLocation(ctx context.Context, req *homebox.CreateLocationRequest) (*homebox.Location, error)
}

// SnapshotSource provides the current snapshot and accepts refresh requests.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
	RequestRefresh()
}

// TokenRefresher is the slice of the auth manager the refresh_token action needs.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
	Attempts() []homebox.Attempt
}

// AreaSource enumerates Home Assistant area names for sync_areas.
type AreaSource interface {
	ListAreas(ctx context.Context) ([]string, error)
}

// Notifier reports action outcomes to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message, notificationID string) error
}

// NopNotifier discards notifications; used when no HA connection exists.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string, string, string) error { return nil }

// SyncReport summarizes one sync_areas run.
type SyncReport struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
	Failed   []string `json:"failed"`
}

// Service bundles the action handlers.
type Service struct {
	inventory Inventory
	coord     SnapshotSource
	auth      TokenRefresher
	areas     AreaSource
	notifier  Notifier
	logger    *zap.Logger
}

// New creates the action service.
func New(inventory Inventory, coord SnapshotSource, auth TokenRefresher, areas AreaSource, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		inventory: inventory,
		coord:     coord,
		auth:      auth,
		areas:     areas,
		notifier:  notifier,
		logger:    logger,
	}
}

// MoveItem changes an item's location, preserving all other fields. The
// remote API requires full-document updates, so the current item is read,
// the new location merged in, and the document written back.
func (s *Service) MoveItem(ctx context.Context, itemID, locationID string) (err error) {
	defer s.finish("move_item", &err)

	snap := s.coord.Snapshot()
	if snap == nil {
		return ErrNoSnapshot
	}
	if _, ok := snap.Items[itemID]; !ok {
		return &homebox.NotFoundError{Kind: "item", ID: itemID}
	}
	location, ok := snap.Locations[locationID]
	if !ok {
		return &homebox.NotFoundError{Kind: "location", ID: locationID}
	}

	item, err := s.inventory.GetItem(ctx, itemID)
	if err != nil {
		s.notify(ctx, "Item Move Failed",
			fmt.Sprintf("Failed to move item %s to location %s: %v", itemID, locationID, err),
			"homebox_item_move_failed")
		return err
	}
	item.LocationID = locationID
	item.Location = nil
	if err = s.inventory.UpdateItem(ctx, item); err != nil {
		s.notify(ctx, "Item Move Failed",
			fmt.Sprintf("Failed to move item %s to location %s: %v", itemID, locationID, err),
			"homebox_item_move_failed")
		return err
	}

	s.logger.Info("Moved item",
		zap.String("item_id", itemID),
		zap.String("location_id", locationID),
		zap.String("location_name", location.Name))
	s.notify(ctx, "Item Moved",
		fmt.Sprintf("Successfully moved item:\n- Name: %s\n- To: %s", item.Name, location.Name),
		"homebox_item_moved")
	return nil
}

// CreateItem creates a new inventory item. Required parameters are validated
// locally before any network call; remote validation errors surface verbatim.
func (s *Service) CreateItem(ctx context.Context, req *homebox.CreateItemRequest) (item *homebox.Item, err error) {
	defer s.finish("create_item", &err)

	if strings.TrimSpace(req.Name) == "" {
		return nil, &homebox.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	snap := s.coord.Snapshot()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	if _, ok := snap.Locations[req.LocationID]; !ok {
		return nil, &homebox.ValidationError{Field: "location_id", Reason: fmt.Sprintf("unknown location %q", req.LocationID)}
	}

	item, err = s.inventory.CreateItem(ctx, req)
	if err != nil {
		s.notify(ctx, "Item Creation Failed",
			fmt.Sprintf("Failed to create item: %v", err),
			"homebox_item_creation_failed")
		return nil, err
	}

	s.logger.Info("Created item", zap.String("item_id", item.ID), zap.String("name", req.Name))
	s.notify(ctx, "Item Created",
		fmt.Sprintf("Successfully created new item:\n- Name: %s\n- ID: %s", req.Name, item.ID),
		"homebox_item_created")
	return item, nil
}

// FillItem sets the recognized content field on an item, merging into the
// existing fields map. Read-modify-write: concurrent fills on the same item
// are last-writer-wins, the remote API offers no conditional update.
func (s *Service) FillItem(ctx context.Context, itemID, value string) (err error) {
	defer s.finish("fill_item", &err)

	if strings.TrimSpace(value) == "" {
		return &homebox.ValidationError{Field: "coffee_value", Reason: "must not be empty"}
	}
	snap := s.coord.Snapshot()
	if snap == nil {
		return ErrNoSnapshot
	}
	if _, ok := snap.Items[itemID]; !ok {
		return &homebox.NotFoundError{Kind: "item", ID: itemID}
	}

	item, err := s.inventory.GetItem(ctx, itemID)
	if err != nil {
		s.notify(ctx, "Coffee Field Update Failed",
			fmt.Sprintf("Failed to set coffee field: %v", err),
			"homebox_item_fill_failed")
		return err
	}

	// The read path matches the field case-insensitively, so overwrite an
	// existing key of any casing instead of adding a duplicate.
	fields := make(map[string]string, len(item.Fields)+1)
	key := coordinator.ContentField
	for k, v := range item.Fields {
		fields[k] = v
		if strings.EqualFold(k, coordinator.ContentField) {
			key = k
		}
	}
	fields[key] = value
	item.Fields = fields

	if err = s.inventory.UpdateItem(ctx, item); err != nil {
		s.notify(ctx, "Coffee Field Update Failed",
			fmt.Sprintf("Failed to set coffee field: %v", err),
			"homebox_item_fill_failed")
		return err
	}

	s.logger.Info("Set content field",
		zap.String("item_id", itemID),
		zap.String("value", value))
	s.notify(ctx, "Coffee Field Updated",
		fmt.Sprintf("Successfully set Coffee field for:\n- Item: %s\n- Value: %s", item.Name, value),
		"homebox_item_filled")
	return nil
}

// SyncAreas reconciles Home Assistant areas into Homebox locations: for each
// area name with no exactly matching location, a location is created.
// Existing locations are never renamed or merged; the reconciliation is
// one-directional and additive.
func (s *Service) SyncAreas(ctx context.Context) (report *SyncReport, err error) {
	defer s.finish("sync_areas", &err)

	snap := s.coord.Snapshot()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	areaNames, err := s.areas.ListAreas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	report = &SyncReport{}
	for _, name := range areaNames {
		if _, exists := snap.LocationByName(name); exists {
			report.Existing = append(report.Existing, name)
			continue
		}
		_, createErr := s.inventory.CreateLocation(ctx, &homebox.CreateLocationRequest{
			Name:        name,
			Description: fmt.Sprintf("Synchronized from Home Assistant area: %s", name),
		})
		if createErr != nil {
			s.logger.Error("Failed to create location for area",
				zap.String("area", name), zap.Error(createErr))
			report.Failed = append(report.Failed, name)
			continue
		}
		s.logger.Info("Created location from area", zap.String("area", name))
		report.Created = append(report.Created, name)
	}

	lines := []string{
		"Sync results:",
		fmt.Sprintf("- Created: %d locations", len(report.Created)),
		fmt.Sprintf("- Already existed: %d locations", len(report.Existing)),
	}
	if len(report.Failed) > 0 {
		lines = append(lines,
			fmt.Sprintf("- Failed: %d locations", len(report.Failed)),
			"  Failed areas: "+strings.Join(report.Failed, ", "))
	}
	s.notify(ctx, "Homebox Area Synchronization", strings.Join(lines, "\n"), "homebox_sync_areas")
	return report, nil
}

// RefreshToken forces an immediate token refresh and returns a diagnostic
// report built from the auth manager's bounded attempt log.
func (s *Service) RefreshToken(ctx context.Context) (report string, err error) {
	defer s.finish("refresh_token", &err)

	token, refreshErr := s.auth.Refresh(ctx)
	var lines []string
	if refreshErr != nil {
		lines = append(lines, fmt.Sprintf("Token refresh failed: %v", refreshErr))
	} else {
		lines = append(lines, fmt.Sprintf("Token refresh successful. New token: %s", homebox.TruncateToken(token)))
	}
	lines = append(lines, "", "Recent auth attempts:")
	for _, attempt := range s.auth.Attempts() {
		outcome := "FAILED"
		if attempt.Success {
			outcome = "ok"
		}
		lines = append(lines, fmt.Sprintf("%s  %-7s %s token=%s %s",
			attempt.Time.Format("2006-01-02 15:04:05"),
			attempt.Kind, outcome, attempt.TokenPrefix, attempt.Detail))
	}

	report = strings.Join(lines, "\n")
	s.notify(ctx, "Token Refresh Results", report, "homebox_token_refresh")
	return report, refreshErr
}

// finish records metrics and requests the out-of-cycle refresh. Runs on
// success and failure alike so the read path always reconverges after a
// mutation attempt.
func (s *Service) finish(action string, err *error) {
	result := "success"
	if *err != nil {
		result = "failure"
	}
	metrics.ActionCalls.WithLabelValues(action, result).Inc()
	s.coord.RequestRefresh()
}

func (s *Service) notify(ctx context.Context, title, message, id string) {
	if err := s.notifier.Notify(ctx, title, message, id); err != nil {
		s.logger.Warn("Failed to send notification", zap.String("title", title), zap.Error(err))
	}
}
