// Package orchestrator runs the committed merge sequence: update the canonical
// record, absorb the duplicates, then fan the investor out across the requested
// funds. Steps run in that fixed order against a backend with no transaction
// spanning them, so a failure stops the sequence and reports partial effects
// rather than rolling back. A retry resumes at the recorded failed step; steps
// that already took effect are never re-issued.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrNotResumable is returned when Resume targets an execution that is not in
// a failed state.
var ErrNotResumable = errors.New("merge execution is not resumable")

// ExecutionStore persists the audit trail for merge executions. The step
// cursor is written before each remote call so a crash mid-sequence still
// leaves a record of the step in flight, and a retry can read back where the
// previous run stopped.
type ExecutionStore interface {
	Create(ctx context.Context, execution *models.MergeExecution) (*models.MergeExecution, error)
	Get(ctx context.Context, tenantID string, id string) (*models.MergeExecution, error)
	AdvanceCursor(ctx context.Context, tenantID string, id string, step models.MergeStep) error
	Complete(ctx context.Context, tenantID string, id string, result json.RawMessage) error
	Fail(ctx context.Context, tenantID string, id string, step models.MergeStep, cause string, result json.RawMessage) error
}

// Orchestrator executes merge requests against the CRM backend.
type Orchestrator struct {
	api     crm.API
	store   ExecutionStore
	emitter *events.Emitter
	logger  ectologger.Logger
}

// New creates a merge orchestrator.
func New(api crm.API, store ExecutionStore, emitter *events.Emitter, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		api:     api,
		store:   store,
		emitter: emitter,
		logger:  logger,
	}
}

// Execute runs the merge sequence for a committed request. The returned result
// always reflects what actually happened, including on failure: a result with
// Updated true and a FailedStep of absorb_duplicates means the canonical write
// landed and the duplicates still exist. The error return is reserved for
// audit-store failures before the first step; step failures are reported in
// the result, not the error.
func (o *Orchestrator) Execute(ctx context.Context, tenantID string, requestedBy string, req *models.MergeRequest) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Execute")
	defer span.End()

	absorbJSON, _ := json.Marshal(req.AbsorbIDs)
	execution, err := o.store.Create(ctx, &models.MergeExecution{
		TenantID:    tenantID,
		KeepID:      req.KeepID,
		AbsorbIDs:   absorbJSON,
		StepCursor:  models.MergeStepUpdateCanonical,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return nil, err
	}

	o.emitter.EmitMergeStarted(ctx, execution, req.AbsorbIDs)

	result := &models.MergeResult{ExecutionID: execution.ID}
	return o.run(ctx, execution, req, result, models.MergeStepUpdateCanonical, time.Now())
}

// Resume re-runs a failed execution from its recorded failed step. Steps the
// first run completed are skipped, never re-issued: after the duplicates are
// absorbed they no longer exist, so a wholesale re-run could not get past the
// absorb call again.
func (o *Orchestrator) Resume(ctx context.Context, tenantID string, executionID string, req *models.MergeRequest) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Orchestrator.Resume")
	defer span.End()

	execution, err := o.store.Get(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != models.ExecutionStatusFailed || execution.FailedStep == nil {
		return nil, ErrNotResumable
	}
	from := *execution.FailedStep

	// Reconstruct the effects of the steps that already landed.
	result := &models.MergeResult{ExecutionID: execution.ID}
	if stepOrder(from) > stepOrder(models.MergeStepUpdateCanonical) {
		result.Updated = true
	}
	if stepOrder(from) > stepOrder(models.MergeStepAbsorbDuplicates) && len(req.AbsorbIDs) > 0 {
		result.Absorbed = req.AbsorbIDs
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": execution.ID,
		"keep_id":      req.KeepID,
		"resume_step":  from,
	}).Info("Resuming merge execution")

	return o.run(ctx, execution, req, result, from, time.Now())
}

// run executes the sequence from the given step onward, skipping steps that
// precede it.
func (o *Orchestrator) run(ctx context.Context, execution *models.MergeExecution, req *models.MergeRequest, result *models.MergeResult, from models.MergeStep, start time.Time) (*models.MergeResult, error) {
	// Step 1: write the resolved fields onto the kept record.
	if stepOrder(from) <= stepOrder(models.MergeStepUpdateCanonical) {
		if err := o.advance(ctx, execution, models.MergeStepUpdateCanonical); err != nil {
			return nil, err
		}
		if err := o.api.UpdateInvestor(ctx, req.KeepID, req.ResolvedFields); err != nil {
			return o.fail(ctx, execution, req, result, models.MergeStepUpdateCanonical, err, start), nil
		}
		result.Updated = true
	}

	// Step 2: absorb the duplicates. Skipped entirely for a single-record
	// session; the kept record must never appear in its own absorb list.
	if len(req.AbsorbIDs) > 0 && stepOrder(from) <= stepOrder(models.MergeStepAbsorbDuplicates) {
		if err := o.advance(ctx, execution, models.MergeStepAbsorbDuplicates); err != nil {
			return nil, err
		}
		if err := o.api.MergeInvestors(ctx, req.KeepID, req.AbsorbIDs); err != nil {
			return o.fail(ctx, execution, req, result, models.MergeStepAbsorbDuplicates, err, start), nil
		}
		result.Absorbed = req.AbsorbIDs
	}

	// Step 3: fan out across the requested funds, minus funds any of the
	// original records already held. The absorbed records' attachments now
	// belong to the kept record, so re-requesting one of those funds would
	// collide.
	rows := subtractExisting(req.NewAssignments, req.ExistingFundIDs)
	if len(rows) > 0 {
		if err := o.advance(ctx, execution, models.MergeStepAssignFunds); err != nil {
			return nil, err
		}
		outcome, err := o.api.CreateFundAssignments(ctx, req.KeepID, rows)
		if err != nil {
			return o.fail(ctx, execution, req, result, models.MergeStepAssignFunds, err, start), nil
		}
		result.CreatedAssignments = outcome.Created
		result.AlreadyAssigned = outcome.AlreadyAssigned
	}

	resultJSON, _ := json.Marshal(result)
	if err := o.store.Complete(ctx, execution.TenantID, execution.ID, resultJSON); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record merge execution completion")
	}
	o.emitter.EmitMergeCompleted(ctx, execution, req.AbsorbIDs, result)

	metrics.MergeExecutionsTotal.WithLabelValues(execution.TenantID, string(models.ExecutionStatusSuccess)).Inc()
	metrics.MergeExecutionDuration.Observe(time.Since(start).Seconds())

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": execution.ID,
		"keep_id":      req.KeepID,
		"absorbed":     len(result.Absorbed),
		"created":      len(result.CreatedAssignments),
	}).Info("Merge execution completed")

	return result, nil
}

func (o *Orchestrator) advance(ctx context.Context, execution *models.MergeExecution, step models.MergeStep) error {
	execution.StepCursor = step
	return o.store.AdvanceCursor(ctx, execution.TenantID, execution.ID, step)
}

func (o *Orchestrator) fail(ctx context.Context, execution *models.MergeExecution, req *models.MergeRequest, result *models.MergeResult, step models.MergeStep, cause error, start time.Time) *models.MergeResult {
	result.FailedStep = step
	result.Error = cause.Error()

	resultJSON, _ := json.Marshal(result)
	if err := o.store.Fail(ctx, execution.TenantID, execution.ID, step, cause.Error(), resultJSON); err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to record merge execution failure")
	}
	o.emitter.EmitMergeFailed(ctx, execution, req.AbsorbIDs, result)

	metrics.MergeExecutionsTotal.WithLabelValues(execution.TenantID, string(models.ExecutionStatusFailed)).Inc()
	metrics.MergeStepFailuresTotal.WithLabelValues(string(step)).Inc()
	metrics.MergeExecutionDuration.Observe(time.Since(start).Seconds())

	o.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"execution_id": execution.ID,
		"keep_id":      req.KeepID,
		"failed_step":  step,
	}).Error("Merge execution failed")

	return result
}

// stepOrder gives the fixed position of a step in the sequence.
func stepOrder(step models.MergeStep) int {
	switch step {
	case models.MergeStepUpdateCanonical:
		return 1
	case models.MergeStepAbsorbDuplicates:
		return 2
	default:
		return 3
	}
}

// subtractExisting drops rows whose fund the investor already holds. The
// backend would reject them as already-assigned anyway; filtering here keeps
// the fan-out call minimal and the warnings meaningful.
func subtractExisting(rows []models.AssignmentRow, existingFundIDs []string) []models.AssignmentRow {
	existing := make(map[string]bool, len(existingFundIDs))
	for _, id := range existingFundIDs {
		existing[id] = true
	}

	out := make([]models.AssignmentRow, 0, len(rows))
	for _, row := range rows {
		if row.Populated() && !existing[row.FundID] {
			out = append(out, row)
		}
	}
	return out
}
