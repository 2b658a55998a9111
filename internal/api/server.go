// Package api exposes the bridge over HTTP: read-only snapshot queries,
// action endpoints mirroring the Home Assistant services, health, and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"homeboxbridge/internal/actions"
	"homeboxbridge/internal/coordinator"
	"homeboxbridge/internal/homebox"
)

// Coordinator is the slice of the refresh coordinator the API needs.
type Coordinator interface {
	Snapshot() *coordinator.Snapshot
	Status() coordinator.Status
	Refresh(ctx context.Context) (*coordinator.Snapshot, error)
}

// Server is the bridge HTTP API.
type Server struct {
	coord   Coordinator
	actions *actions.Service
	logger  *zap.Logger
	httpSrv *http.Server
	limiter *ipRateLimiter
}

// Options tunes the HTTP surface.
type Options struct {
	Addr           string
	Token          string
	RateLimitRPS   float64
	RateLimitBurst int
}

// New builds the server and its router.
func New(opts Options, coord Coordinator, svc *actions.Service, logger *zap.Logger) *Server {
	s := &Server{
		coord:   coord,
		actions: svc,
		logger:  logger,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(logger))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Get("/locations", s.handleListLocations)

		r.Route("/actions", func(r chi.Router) {
			r.Use(rateLimit(s.limiter))
			r.Post("/refresh", s.handleRefresh)
			r.Post("/move_item", s.handleMoveItem)
			r.Post("/create_item", s.handleCreateItem)
			r.Post("/fill_item", s.handleFillItem)
			r.Post("/sync_areas", s.handleSyncAreas)
			r.Post("/refresh_token", s.handleRefreshToken)
		})
	})

	s.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stop()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	payload := map[string]interface{}{
		"status":      "ok",
		"sync_status": string(s.coord.Status()),
	}
	if snap != nil {
		payload["last_fetch"] = snap.FetchedAt.Format(time.RFC3339)
		payload["items"] = len(snap.Items)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload(snap))
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}

	locationName := r.URL.Query().Get("location")
	items := make([]coordinator.Item, 0, len(snap.Items))
	for _, item := range snap.Items {
		if locationName != "" && item.LocationName != locationName {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": len(items)})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	id := chi.URLParam(r, "id")
	item, ok := snap.Items[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("item %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	locations := make([]homebox.Location, 0, len(snap.Locations))
	for _, loc := range snap.Locations {
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].Name < locations[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{"locations": locations, "total": len(locations)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coord.Refresh(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     string(s.coord.Status()),
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"items":      len(snap.Items),
	})
}

type moveItemRequest struct {
	ItemID     string `json:"item_id"`
	LocationID string `json:"location_id"`
}

func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	var req moveItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemID == "" || req.LocationID == "" {
		writeError(w, http.StatusBadRequest, "item_id and location_id are required")
		return
	}
	if err := s.actions.MoveItem(r.Context(), req.ItemID, req.LocationID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

type createItemRequest struct {
	Name          string            `json:"name"`
	LocationID    string            `json:"location_id"`
	Description   string            `json:"description"`
	Quantity      int               `json:"quantity"`
	AssetID       string            `json:"asset_id"`
	PurchasePrice float64           `json:"purchase_price"`
	Fields        map[string]string `json:"fields"`
	Labels        []string          `json:"labels"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	item, err := s.actions.CreateItem(r.Context(), &homebox.CreateItemRequest{
		Name:          req.Name,
		LocationID:    req.LocationID,
		Description:   req.Description,
		Quantity:      quantity,
		AssetID:       req.AssetID,
		PurchasePrice: req.PurchasePrice,
		Fields:        req.Fields,
		LabelIDs:      req.Labels,
	})
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type fillItemRequest struct {
	ItemID string `json:"item_id"`
	Value  string `json:"coffee_value"`
}

func (s *Server) handleFillItem(w http.ResponseWriter, r *http.Request) {
	var req fillItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	if err := s.actions.FillItem(r.Context(), req.ItemID, req.Value); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "filled"})
}

func (s *Server) handleSyncAreas(w http.ResponseWriter, r *http.Request) {
	report, err := s.actions.SyncAreas(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	report, err := s.actions.RefreshToken(r.Context())
	if err != nil {
		// The report still carries the attempt log; return it with the error.
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"report": report})
}

// writeActionError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var (
		validationErr *homebox.ValidationError
		notFoundErr   *homebox.NotFoundError
		authErr       *homebox.AuthError
		remoteErr     *homebox.RemoteAPIError
		connErr       *homebox.ConnectionError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusBadGateway, authErr.Error())
	case errors.As(err, &remoteErr):
		status := http.StatusBadGateway
		if remoteErr.Status >= 400 && remoteErr.Status < 500 {
			status = remoteErr.Status
		}
		writeError(w, status, remoteErr.Error())
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, connErr.Error())
	case errors.Is(err, actions.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Unhandled action error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func snapshotPayload(snap *coordinator.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"partial":    snap.Partial,
		"items":      len(snap.Items),
		"locations":  len(snap.Locations),
		"labels":     len(snap.Labels),
		"contents":   len(snap.Contents),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
