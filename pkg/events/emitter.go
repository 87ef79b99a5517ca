// Package events handles event emission for merge lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes merge lifecycle events. A nil producer disables emission,
// so the service runs without Kafka in dev.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitMergeStarted emits a merge.started event before the first step runs.
func (e *Emitter) EmitMergeStarted(ctx context.Context, execution *models.MergeExecution, absorbIDs []string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMergeStarted")
	defer span.End()

	if e.producer == nil {
		return
	}

	event := &kafka.MergeEvent{
		EventType:   "merge.started",
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		KeepID:      execution.KeepID,
		AbsorbIDs:   absorbIDs,
	}

	if err := e.producer.PublishMergeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge.started event")
	}
}

// EmitMergeCompleted emits a merge.completed event with the full result.
func (e *Emitter) EmitMergeCompleted(ctx context.Context, execution *models.MergeExecution, absorbIDs []string, result *models.MergeResult) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMergeCompleted")
	defer span.End()

	if e.producer == nil {
		return
	}

	data := map[string]any{
		"schema_version":      SchemaVersion,
		"absorbed_count":      len(result.Absorbed),
		"created_assignments": result.CreatedAssignments,
		"already_assigned":    result.AlreadyAssigned,
	}
	dataJSON, _ := json.Marshal(data)

	event := &kafka.MergeEvent{
		EventType:   "merge.completed",
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		KeepID:      execution.KeepID,
		AbsorbIDs:   absorbIDs,
		Data:        dataJSON,
	}

	if err := e.producer.PublishMergeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge.completed event")
	}
}

// EmitMergeFailed emits a merge.failed event naming the failed step. The
// partial result rides along: earlier steps have already taken effect.
func (e *Emitter) EmitMergeFailed(ctx context.Context, execution *models.MergeExecution, absorbIDs []string, result *models.MergeResult) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMergeFailed")
	defer span.End()

	if e.producer == nil {
		return
	}

	data := map[string]any{
		"schema_version": SchemaVersion,
		"failed_step":    result.FailedStep,
		"error":          result.Error,
		"updated":        result.Updated,
		"absorbed_count": len(result.Absorbed),
	}
	dataJSON, _ := json.Marshal(data)

	event := &kafka.MergeEvent{
		EventType:   "merge.failed",
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		KeepID:      execution.KeepID,
		AbsorbIDs:   absorbIDs,
		Data:        dataJSON,
	}

	if err := e.producer.PublishMergeEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge.failed event")
	}
}
