package workflow

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/options"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MergeExecutor runs a committed merge request. Resume re-runs a failed
// execution from its recorded failed step instead of from the top.
type MergeExecutor interface {
	Execute(ctx context.Context, tenantID string, requestedBy string, req *models.MergeRequest) (*models.MergeResult, error)
	Resume(ctx context.Context, tenantID string, executionID string, req *models.MergeRequest) (*models.MergeResult, error)
}

// Service opens, drives, and submits reconciliation sessions.
type Service struct {
	api      crm.API
	store    *Store
	executor MergeExecutor
	locker   *redis.Locker
	lockTTL  time.Duration
	logger   ectologger.Logger
}

// NewService creates the workflow service. A nil locker disables
// cross-instance group exclusivity (single-instance dev mode).
func NewService(api crm.API, store *Store, executor MergeExecutor, locker *redis.Locker, lockTTL time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		api:      api,
		store:    store,
		executor: executor,
		locker:   locker,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Open starts a session over a duplicate group. The candidate records, fund
// list, and each record's existing assignments are fetched concurrently; the
// records are ordered oldest first so index 0 is the record to keep. While the
// session is open, the group is locked against other operators.
func (s *Service) Open(ctx context.Context, tenantID, userID string, investorIDs []string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.Service.Open")
	defer span.End()

	if len(investorIDs) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "at least one investor id is required")
	}

	groupKey := groupKey(investorIDs)

	var lock *redis.Lock
	if s.locker != nil {
		var err error
		lock, err = s.locker.Acquire(ctx, groupKey, s.lockTTL)
		if err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate group is being reconciled by another operator")
			}
			return nil, err
		}
	}

	records := make([]*models.CandidateRecord, len(investorIDs))
	assignments := make([][]models.Assignment, len(investorIDs))
	var funds []models.Fund

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		funds, err = s.api.ListFunds(gctx)
		return err
	})
	for i, id := range investorIDs {
		g.Go(func() error {
			var err error
			records[i], err = s.api.GetInvestorDetail(gctx, id)
			return err
		})
		g.Go(func() error {
			var err error
			assignments[i], err = s.api.GetInvestorAssignments(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if lock != nil {
			_ = lock.Release(ctx)
		}
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt < records[j].CreatedAt
	})

	existing := unionFundIDs(assignments)
	cache := options.NewCache(s.api, s.logger)
	session := newSession(uuid.New().String(), tenantID, userID, groupKey, records, funds, existing, cache, lock)
	s.store.Put(session)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id": session.ID,
		"keep_id":    session.KeepID(),
		"records":    len(records),
	}).Info("Opened reconciliation session")

	return session, nil
}

// Get returns a live session by id.
func (s *Service) Get(id string) (*Session, error) {
	return s.store.Get(id)
}

// Submit commits the session: the frozen merge request runs through the
// executor. On full success the session closes and its lock is released; on a
// step failure the session stays open so the operator can retry, and the
// result names the failed step and the effects that stand. A retry resumes
// the failed execution at its recorded step rather than re-running the whole
// sequence: steps that already landed, absorb in particular, must not be
// re-issued.
func (s *Service) Submit(ctx context.Context, id string) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.Service.Submit")
	defer span.End()

	session, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}

	req, err := session.BuildMergeRequest()
	if err != nil {
		switch {
		case errors.Is(err, ErrIdentityRequired), errors.Is(err, ErrNoPopulatedSlots), errors.Is(err, ErrNotOnAssignStep):
			return nil, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		default:
			return nil, err
		}
	}

	var result *models.MergeResult
	if executionID := session.ResumeExecutionID(); executionID != "" {
		result, err = s.executor.Resume(ctx, session.TenantID, executionID, req)
	} else {
		result, err = s.executor.Execute(ctx, session.TenantID, session.UserID, req)
	}
	if err != nil {
		return nil, err
	}

	if result.FailedStep == "" {
		s.store.Remove(ctx, id)
	} else {
		session.RecordFailedExecution(result.ExecutionID)
	}
	return result, nil
}

// Cancel discards all session state without any remote write.
func (s *Service) Cancel(ctx context.Context, id string) {
	s.store.Remove(ctx, id)
}

// groupKey is the stable lock key for a set of investor ids, independent of
// request order.
func groupKey(investorIDs []string) string {
	ids := make([]string, len(investorIDs))
	copy(ids, investorIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// unionFundIDs collects the distinct fund ids attached to any of the records,
// in first-seen order.
func unionFundIDs(assignments [][]models.Assignment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range assignments {
		for _, a := range list {
			if a.FundID != "" && !seen[a.FundID] {
				seen[a.FundID] = true
				out = append(out, a.FundID)
			}
		}
	}
	return out
}
