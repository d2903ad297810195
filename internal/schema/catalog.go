// Package schema maintains a cached snapshot of the metrics database schema.
// The catalog refreshes the snapshot from its source when the freshness
// window lapses, collapsing concurrent refreshes into a single load.
package schema

import (
	"context"
	"sync"
	"time"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/logging"
	"github.com/kyleking/askmetrics/internal/metrics"
	"github.com/kyleking/askmetrics/internal/types"
)

const defaultTTL = 5 * time.Minute

// Source loads schema metadata from the live database.
type Source interface {
	Load(ctx context.Context) (types.Schema, error)
}

// Catalog serves versioned schema snapshots. Snapshots are treated as
// immutable once returned; callers must not modify them.
type Catalog struct {
	source Source
	ttl    time.Duration

	mu          sync.Mutex
	snapshot    types.Schema
	hasSnapshot bool
	loadedAt    time.Time
	lastErr     error
	inflight    chan struct{} // non-nil while a refresh is running
}

// NewCatalog creates a catalog backed by the given source. A non-positive
// ttl falls back to the default freshness window.
func NewCatalog(source Source, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Catalog{source: source, ttl: ttl}
}

// Snapshot returns the current schema snapshot, refreshing it from the
// source when the freshness window has lapsed. Concurrent callers that find
// the snapshot stale share a single refresh; they block until it completes
// or their context is cancelled.
func (c *Catalog) Snapshot(ctx context.Context) (types.Schema, error) {
	c.mu.Lock()

	if c.fresh() {
		snap := c.snapshot
		c.mu.Unlock()

		return snap, nil
	}

	if c.inflight != nil {
		wait := c.inflight
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return types.Schema{}, ctx.Err()
		}

		return c.current()
	}

	c.inflight = make(chan struct{})
	c.mu.Unlock()

	return c.refresh(ctx)
}

// Version returns the current snapshot's schema version fingerprint.
func (c *Catalog) Version(ctx context.Context) (string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	return snap.Version, nil
}

// FindTable looks up a table by name, case-insensitively.
func (c *Catalog) FindTable(ctx context.Context, name string) (types.Table, bool, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return types.Table{}, false, err
	}

	table, ok := snap.Table(name)

	return table, ok, nil
}

// FindColumn looks up a column within a table, case-insensitively.
func (c *Catalog) FindColumn(
	ctx context.Context,
	table, column string,
) (types.Column, bool, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return types.Column{}, false, err
	}

	col, ok := snap.Column(table, column)

	return col, ok, nil
}

// Invalidate marks the current snapshot stale so the next Snapshot call
// refreshes from the source. The stale snapshot remains available as a
// fallback should that refresh fail.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadedAt = time.Time{}
}

// fresh reports whether the snapshot is inside its freshness window.
// Caller must hold the lock.
func (c *Catalog) fresh() bool {
	return c.hasSnapshot && !c.loadedAt.IsZero() && time.Since(c.loadedAt) < c.ttl
}

// current returns whatever snapshot the last refresh left behind, stale or
// not. Used by callers that waited out another caller's refresh.
func (c *Catalog) current() (types.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasSnapshot {
		return c.snapshot, nil
	}

	if c.lastErr != nil {
		return types.Schema{}, c.lastErr
	}

	return types.Schema{}, errors.New(errors.ErrTypeDatabase, "schema snapshot unavailable")
}

// refresh loads a new snapshot from the source. Exactly one caller runs this
// at a time; the inflight channel is closed when it finishes. A failed load
// falls back to the previous snapshot when one exists.
func (c *Catalog) refresh(ctx context.Context) (types.Schema, error) {
	snap, err := c.source.Load(ctx)

	c.mu.Lock()
	defer func() {
		close(c.inflight)
		c.inflight = nil
		c.mu.Unlock()
	}()

	if err != nil {
		c.lastErr = errors.Wrap(err, errors.ErrTypeDatabase, "failed to refresh schema snapshot")

		if c.hasSnapshot {
			logging.Warnf("serving stale schema snapshot, refresh failed: %v", err)
			metrics.RecordSchemaRefresh("stale")

			return c.snapshot, nil
		}

		metrics.RecordSchemaRefresh("error")

		return types.Schema{}, c.lastErr
	}

	metrics.RecordSchemaRefresh("ok")

	snap.Version = snap.Fingerprint()

	c.snapshot = snap
	c.hasSnapshot = true
	c.loadedAt = time.Now()
	c.lastErr = nil

	return snap, nil
}
