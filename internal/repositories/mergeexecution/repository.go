package mergeexecution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository handles merge execution audit persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge execution repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a pending execution record before the first remote call.
func (r *Repository) Create(ctx context.Context, execution *models.MergeExecution) (*models.MergeExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.Create")
	defer span.End()

	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	execution.Status = models.ExecutionStatusPending
	execution.StartedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("merge_executions")
	sb.Cols("id", "tenant_id", "keep_id", "absorb_ids", "status", "step_cursor", "requested_by", "started_at")
	sb.Values(execution.ID, execution.TenantID, execution.KeepID, execution.AbsorbIDs, execution.Status, execution.StepCursor, execution.RequestedBy, execution.StartedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create merge execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create merge execution")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": execution.ID, "keep_id": execution.KeepID}).Info("Created merge execution")
	return execution, nil
}

// Get retrieves a merge execution by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.MergeExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "keep_id", "absorb_ids", "status", "step_cursor", "failed_step", "error", "result", "requested_by", "started_at", "completed_at")
	sb.From("merge_executions")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var execution models.MergeExecution
	if err := r.db.GetContext(ctx, &execution, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge execution %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge execution")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge execution")
	}

	return &execution, nil
}

// AdvanceCursor records that a step is about to run. The cursor survives a
// crash mid-sequence, so the audit trail always names the step in flight. A
// prior failure's step and error are cleared: advancing again means the
// execution is being resumed.
func (r *Repository) AdvanceCursor(ctx context.Context, tenantID string, id string, step models.MergeStep) error {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.AdvanceCursor")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("merge_executions")
	sb.Set(
		sb.Assign("status", models.ExecutionStatusRunning),
		sb.Assign("step_cursor", step),
		sb.Assign("failed_step", nil),
		sb.Assign("error", nil),
		sb.Assign("completed_at", nil),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to advance merge execution cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance merge execution cursor")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("merge execution %s not found", id))
	}

	return nil
}

// Complete marks the execution successful and stores the final result.
func (r *Repository) Complete(ctx context.Context, tenantID string, id string, result json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.Complete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("merge_executions")
	sb.Set(
		sb.Assign("status", models.ExecutionStatusSuccess),
		sb.Assign("result", result),
		sb.Assign("completed_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to complete merge execution")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete merge execution")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Completed merge execution")
	return nil
}

// Fail marks the execution failed at the given step, preserving the partial
// result so earlier effects stay reportable.
func (r *Repository) Fail(ctx context.Context, tenantID string, id string, step models.MergeStep, cause string, result json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.Fail")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("merge_executions")
	sb.Set(
		sb.Assign("status", models.ExecutionStatusFailed),
		sb.Assign("failed_step", step),
		sb.Assign("error", cause),
		sb.Assign("result", result),
		sb.Assign("completed_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to mark merge execution failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark merge execution failed")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "failed_step": step}).Warn("Marked merge execution failed")
	return nil
}

// ListByInvestor returns the execution history touching an investor id as the
// kept record, newest first.
func (r *Repository) ListByInvestor(ctx context.Context, tenantID string, keepID string, limit int) ([]models.MergeExecution, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeexecution.Repository.ListByInvestor")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "keep_id", "absorb_ids", "status", "step_cursor", "failed_step", "error", "result", "requested_by", "started_at", "completed_at")
	sb.From("merge_executions")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("keep_id", keepID),
	)
	sb.OrderBy("started_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var executions []models.MergeExecution
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge executions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge executions")
	}

	return executions, nil
}
