// Package options implements the per-fund reference-data cache a workflow
// session depends on: manager rosters and pipeline-stage lists, fetched
// lazily, coalesced per fund, and held for the lifetime of the session.
package options

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// DefaultStageName is the stage proposed as the initial stage for a new
// assignment row when a fund's stage list contains it. Exact, case-sensitive
// match.
const DefaultStageName = "Investors"

// EntryState is the lifecycle state of one cached fund context. Fetch failure
// is a first-class state rather than an empty options list, so callers can
// tell "no options" apart from "options unavailable".
type EntryState string

const (
	StateLoading EntryState = "loading"
	StateReady   EntryState = "ready"
	StateFailed  EntryState = "failed"
)

type entry struct {
	state   EntryState
	context *models.FundContext
	err     error
}

// Cache memoizes FundContext per fund id for one workflow session. Concurrent
// first calls for the same fund are coalesced into a single fetch; entries are
// never invalidated mid-session. A Failed entry is retried only when the fund
// is explicitly requested again.
type Cache struct {
	api    crm.API
	logger ectologger.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

// NewCache creates a session-scoped option cache.
func NewCache(api crm.API, logger ectologger.Logger) *Cache {
	return &Cache{
		api:     api,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Get returns the fund's context, fetching it on first use. The manager roster
// and stage list are fetched concurrently and joined. Fetch failures are
// fail-soft: the failed half is an empty list and the entry is marked Failed,
// but the workflow stays usable.
func (c *Cache) Get(ctx context.Context, fundID string) (*models.FundContext, error) {
	c.mu.RLock()
	if e, ok := c.entries[fundID]; ok && e.state == StateReady {
		c.mu.RUnlock()
		return e.context, nil
	}
	c.mu.RUnlock()

	// Coalesce concurrent first-calls per fund id into one shared fetch.
	v, err, _ := c.group.Do(fundID, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[fundID]; ok && e.state == StateReady {
			c.mu.Unlock()
			return e.context, nil
		}
		c.entries[fundID] = &entry{state: StateLoading}
		c.mu.Unlock()

		fundCtx, fetchErr := c.fetch(ctx, fundID)

		c.mu.Lock()
		if fetchErr != nil {
			c.entries[fundID] = &entry{state: StateFailed, context: fundCtx, err: fetchErr}
		} else {
			c.entries[fundID] = &entry{state: StateReady, context: fundCtx}
		}
		c.mu.Unlock()

		return fundCtx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.FundContext), nil
}

// State returns the cache state for a fund id; ok is false when the fund has
// never been requested this session.
func (c *Cache) State(fundID string) (EntryState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fundID]
	if !ok {
		return "", false
	}
	return e.state, true
}

// FetchErr returns the retained error for a Failed entry, nil otherwise.
func (c *Cache) FetchErr(fundID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[fundID]; ok {
		return e.err
	}
	return nil
}

// fetch issues the two halves concurrently and joins them. Each half fails
// soft to an empty list; the first error is retained so the entry can be
// marked Failed.
func (c *Cache) fetch(ctx context.Context, fundID string) (*models.FundContext, error) {
	ctx, span := tracing.StartSpan(ctx, "options.Cache.fetch")
	defer span.End()

	var (
		managers []models.Manager
		stages   []models.PipelineStage

		managersErr error
		stagesErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		managers, managersErr = c.api.GetFundManagers(gctx, fundID)
		return nil
	})
	g.Go(func() error {
		stages, stagesErr = c.api.GetPipelineStages(gctx, fundID)
		return nil
	})
	_ = g.Wait()

	fundCtx := &models.FundContext{
		FundID:   fundID,
		Managers: managers,
		Stages:   stages,
	}

	var fetchErr error
	if managersErr != nil {
		c.logger.WithContext(ctx).WithError(managersErr).WithFields(map[string]any{"fund_id": fundID}).
			Warn("Failed to fetch fund managers; presenting empty roster")
		fundCtx.Managers = []models.Manager{}
		fetchErr = managersErr
	}
	if stagesErr != nil {
		c.logger.WithContext(ctx).WithError(stagesErr).WithFields(map[string]any{"fund_id": fundID}).
			Warn("Failed to fetch pipeline stages; presenting empty stage list")
		fundCtx.Stages = []models.PipelineStage{}
		if fetchErr == nil {
			fetchErr = stagesErr
		}
	}

	for _, stage := range fundCtx.Stages {
		if stage.Name == DefaultStageName {
			fundCtx.DefaultStageID = stage.ID
			break
		}
	}

	// The context carries its own state so a failed fetch is reported as
	// "options unavailable", never as a genuinely empty roster.
	if fetchErr != nil {
		fundCtx.OptionsState = string(StateFailed)
		fundCtx.OptionsError = fetchErr.Error()
		metrics.OptionFetchesTotal.WithLabelValues("failed").Inc()
	} else {
		fundCtx.OptionsState = string(StateReady)
		metrics.OptionFetchesTotal.WithLabelValues("ready").Inc()
	}

	return fundCtx, fetchErr
}
