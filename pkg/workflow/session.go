// Package workflow holds the session state machine for one open
// reconciliation: the candidate records, the field resolutions, the pending
// fund assignments, and the two-phase stepper that gates submission.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/assignment"
	"github.com/Ramsey-B/clover/pkg/fields"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/options"
	"github.com/Ramsey-B/clover/pkg/redis"
)

// Step is the stepper state of a session.
type Step string

const (
	// StepReconcile is the initial phase: pick winning field values.
	StepReconcile Step = "reconcile"
	// StepAssignFunds is the terminal phase before submit: build assignment rows.
	StepAssignFunds Step = "assign_funds"
)

var (
	// ErrSessionClosed is returned when an operation targets a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrIdentityRequired gates the reconcile -> assign-funds transition
	ErrIdentityRequired = errors.New("identity field must be resolved before assigning funds")

	// ErrNoPopulatedSlots gates submission
	ErrNoPopulatedSlots = errors.New("at least one assignment slot must target a fund")

	// ErrNotOnAssignStep is returned when submit is attempted from reconcile
	ErrNotOnAssignStep = errors.New("submission is only reachable from the assign-funds step")
)

// Session is one open reconciliation over a duplicate group. All reads and
// writes go through the session's own mutex; nothing is shared across
// sessions. The closed flag is the liveness check: a response arriving after
// close is discarded, never applied to stale state.
type Session struct {
	ID       string
	TenantID string
	UserID   string
	GroupKey string

	mu         sync.Mutex
	records    []*models.CandidateRecord
	funds      []models.Fund
	existing   []string
	resolver   *fields.Resolver
	set        *assignment.Set
	cache      *options.Cache
	step       Step
	closed     bool
	lock       *redis.Lock
	lastActive time.Time

	// resumeExecutionID names the failed execution a retry must resume,
	// empty until a submission fails partway.
	resumeExecutionID string
}

// newSession wires the session from its fetched inputs. Records arrive oldest
// first; index 0 is the canonical record to keep.
func newSession(id, tenantID, userID, groupKey string, records []*models.CandidateRecord, funds []models.Fund, existingFundIDs []string, cache *options.Cache, lock *redis.Lock) *Session {
	resolver := fields.NewResolver(fields.InvestorSpecs)
	resolver.Initialize(records)

	return &Session{
		ID:         id,
		TenantID:   tenantID,
		UserID:     userID,
		GroupKey:   groupKey,
		records:    records,
		funds:      funds,
		existing:   existingFundIDs,
		resolver:   resolver,
		set:        assignment.NewSet(funds, existingFundIDs),
		cache:      cache,
		step:       StepReconcile,
		lock:       lock,
		lastActive: time.Now(),
	}
}

// Step returns the session's current stepper state.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// KeepID returns the canonical record's id.
func (s *Session) KeepID() string {
	return s.records[0].ID
}

// AbsorbIDs returns the ids of the records being absorbed, possibly empty for
// a single-record session.
func (s *Session) AbsorbIDs() []string {
	ids := make([]string, 0, len(s.records)-1)
	for _, record := range s.records[1:] {
		ids = append(ids, record.ID)
	}
	return ids
}

// Records returns the candidate records, oldest first.
func (s *Session) Records() []*models.CandidateRecord {
	return s.records
}

// Resolutions returns the current field resolutions keyed by field key.
func (s *Session) Resolutions() (map[string]fields.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.resolver.Resolutions(), nil
}

// SelectSource re-points a field at one of the candidate records.
func (s *Session) SelectSource(key string, recordIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.resolver.SelectSource(key, s.records, recordIndex)
	s.touch()
	return nil
}

// EditField overrides a field with a hand-edited value.
func (s *Session) EditField(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.resolver.Edit(key, value)
	s.touch()
	return nil
}

// Advance moves reconcile -> assign-funds, gated on the identity field being
// non-empty post-resolution.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.step == StepAssignFunds {
		return nil
	}
	if !s.resolver.IdentityResolved() {
		return ErrIdentityRequired
	}
	s.step = StepAssignFunds
	s.touch()
	return nil
}

// Back moves assign-funds -> reconcile. Always permitted; resolutions and
// assignment rows survive the transition.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.step = StepReconcile
	s.touch()
	return nil
}

// AddSlot appends an empty assignment slot.
func (s *Session) AddSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.set.AddSlot()
	s.touch()
	return nil
}

// RemoveSlot removes an assignment slot, keeping at least one.
func (s *Session) RemoveSlot(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.set.RemoveSlot(index)
	s.touch()
	return nil
}

// SetFund selects a slot's fund and fetches its option context. The slot is
// claimed under the mutex, the fetch runs outside it, and the outcome is
// applied under the mutex again only after re-validating that the session is
// still live and the slot still targets the same fund. Outcomes landing on a
// removed or re-targeted slot are discarded, never applied to stale state.
func (s *Session) SetFund(ctx context.Context, index int, fundID string) (*models.FundContext, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if err := s.set.SelectFund(index, fundID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	cache := s.cache
	s.mu.Unlock()

	fundCtx, err := cache.Get(ctx, fundID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if err := s.set.ApplyFundContext(index, fundID, fundCtx); err != nil {
		return nil, err
	}
	s.touch()
	return fundCtx, nil
}

// OptionStatuses reports the option-cache state for every fund selected in a
// slot, so the view can tell "no options" apart from "options unavailable".
func (s *Session) OptionStatuses() (map[string]models.FundOptionsStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	out := make(map[string]models.FundOptionsStatus)
	for _, slot := range s.set.Slots() {
		if slot.FundID == "" {
			continue
		}
		state, ok := s.cache.State(slot.FundID)
		if !ok {
			continue
		}
		status := models.FundOptionsStatus{State: string(state)}
		if err := s.cache.FetchErr(slot.FundID); err != nil {
			status.Error = err.Error()
		}
		out[slot.FundID] = status
	}
	return out, nil
}

// SetManager writes a slot's manager.
func (s *Session) SetManager(index int, managerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.touch()
	return s.set.SetManager(index, managerID)
}

// SetStage writes a slot's initial stage.
func (s *Session) SetStage(index int, stageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.touch()
	return s.set.SetStage(index, stageID)
}

// AvailableFunds returns the funds selectable in a slot.
func (s *Session) AvailableFunds(index int) ([]models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.set.AvailableFunds(index), nil
}

// Slots returns the current assignment slots.
func (s *Session) Slots() ([]models.AssignmentRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.set.Slots(), nil
}

// BuildMergeRequest validates the submission gates and freezes the session
// state into a merge request. Validation failures never reach the network.
func (s *Session) BuildMergeRequest() (*models.MergeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.step != StepAssignFunds {
		return nil, ErrNotOnAssignStep
	}
	if !s.resolver.IdentityResolved() {
		return nil, ErrIdentityRequired
	}
	if !s.set.ReadyToSubmit() {
		return nil, ErrNoPopulatedSlots
	}

	return &models.MergeRequest{
		KeepID:          s.KeepID(),
		AbsorbIDs:       s.AbsorbIDs(),
		ResolvedFields:  s.resolver.ResolvedFields(),
		NewAssignments:  s.set.PopulatedRows(),
		ExistingFundIDs: s.existing,
	}, nil
}

// RecordFailedExecution remembers the execution a later retry must resume.
func (s *Session) RecordFailedExecution(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resumeExecutionID = executionID
	s.touch()
}

// ResumeExecutionID returns the failed execution to resume, empty when the
// next submission starts fresh.
func (s *Session) ResumeExecutionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeExecutionID
}

// Close marks the session dead and releases its group lock. Idempotent. All
// in-session state becomes unreachable; in-flight fetches are discarded on
// arrival.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()

	if lock != nil {
		_ = lock.Release(ctx)
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LastActive returns the time of the last mutating operation.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}
