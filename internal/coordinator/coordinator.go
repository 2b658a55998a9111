// Package coordinator owns the periodic fetch/cache cycle: it retrieves
// items, locations and labels from Homebox, builds an immutable denormalized
// snapshot, and republishes it to subscribers. A cycle that fails keeps the
// last-good snapshot so entities report stale-but-known state instead of
// going unavailable on transient outages.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"homeboxbridge/internal/clock"
	"homeboxbridge/internal/homebox"
	"homeboxbridge/internal/metrics"
)

// Status describes the outcome of the most recent cycle.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

// Fetcher is the slice of the Homebox client the coordinator needs.
type Fetcher interface {
	FetchItems(ctx context.Context) ([]homebox.Item, error)
	FetchLocations(ctx context.Context) ([]homebox.Location, error)
	FetchLabels(ctx context.Context) ([]homebox.Label, error)
}

// Listener is notified with each newly published snapshot.
type Listener func(*Snapshot)

// refreshCall lets concurrent refresh requests coalesce into the in-flight
// cycle instead of spawning a second fetch.
type refreshCall struct {
	done chan struct{}
	snap *Snapshot
	err  error
}

// Coordinator runs the fetch/cache cycle.
type Coordinator struct {
	fetcher  Fetcher
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	snapshot  *Snapshot
	status    Status
	inflight  *refreshCall
	listeners []Listener

	kick chan struct{}
}

// New creates a coordinator polling on the given interval.
func New(fetcher Fetcher, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		fetcher:  fetcher,
		interval: interval,
		clock:    clk,
		logger:   logger,
		status:   StatusIdle,
		kick:     make(chan struct{}, 1),
	}
}

// Snapshot returns the last published snapshot, or nil before the first
// successful cycle.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Status returns the outcome of the most recent cycle.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers a listener invoked after every cycle that produced a
// snapshot (success or partial failure).
func (c *Coordinator) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RequestRefresh asks for an out-of-cycle refresh without waiting for its
// result. Requests arriving while a cycle is in flight coalesce into it.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Refresh runs one cycle, or joins the in-flight one. On Failure the
// previous snapshot is returned alongside the error; on PartialFailure the
// new snapshot is returned with a nil error and Partial set.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	snap, err := c.runCycle(ctx)
	call.snap, call.err = snap, err

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)
	return snap, err
}

// Run drives the periodic loop until ctx is cancelled. Cycle failures are
// logged, never propagated: entities keep their last-known state.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.interval):
		case <-c.kick:
		}
		if _, err := c.Refresh(ctx); err != nil {
			c.logger.Error("Refresh cycle failed, keeping previous snapshot", zap.Error(err))
		}
	}
}

func (c *Coordinator) runCycle(ctx context.Context) (*Snapshot, error) {
	// A pending kick is satisfied by this cycle; drain it so the loop does
	// not run a redundant extra cycle right after. Kicks arriving mid-cycle
	// stay queued: the mutation behind them may have landed after the fetch.
	select {
	case <-c.kick:
	default:
	}

	started := c.clock.Now()

	items, err := c.fetcher.FetchItems(ctx)
	if err != nil {
		// Items are the backbone of the snapshot; without them the cycle is
		// a failure and the previous snapshot stays published untouched.
		c.setStatus(StatusFailure)
		metrics.RefreshCycles.WithLabelValues("failure").Inc()
		return c.Snapshot(), err
	}

	var partialErr error
	locations, locErr := c.fetcher.FetchLocations(ctx)
	if locErr != nil {
		partialErr = multierr.Append(partialErr, locErr)
	}
	labels, labErr := c.fetcher.FetchLabels(ctx)
	if labErr != nil {
		partialErr = multierr.Append(partialErr, labErr)
	}

	prev := c.Snapshot()
	locMap := locationMap(locations)
	labMap := labelMap(labels)
	if locErr != nil && prev != nil {
		locMap = prev.Locations
	}
	if labErr != nil && prev != nil {
		labMap = prev.Labels
	}

	partial := partialErr != nil
	snap := buildSnapshot(items, locMap, labMap, c.clock.Now(), partial)

	status := StatusSuccess
	result := "success"
	if partial {
		status = StatusPartialFailure
		result = "partial"
		c.logger.Warn("Cycle degraded to partial failure, reusing cached locations/labels",
			zap.Error(partialErr))
	}

	c.mu.Lock()
	c.snapshot = snap
	c.status = status
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	metrics.RefreshCycles.WithLabelValues(result).Inc()
	metrics.RefreshDuration.Observe(c.clock.Since(started).Seconds())
	metrics.SnapshotItems.Set(float64(len(snap.Items)))

	c.logger.Debug("Published snapshot",
		zap.Int("items", len(snap.Items)),
		zap.Int("locations", len(snap.Locations)),
		zap.Int("labels", len(snap.Labels)),
		zap.Bool("partial", partial))

	for _, l := range listeners {
		l(snap)
	}
	return snap, nil
}

func (c *Coordinator) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
