package models

import (
	"encoding/json"
	"time"
)

// MergeStep identifies one remote call in the merge sequence. Steps run in
// declaration order; a failure stops the sequence but never rolls back the
// steps already applied.
type MergeStep string

const (
	// MergeStepUpdateCanonical writes the resolved fields onto the kept record.
	MergeStepUpdateCanonical MergeStep = "update_canonical"
	// MergeStepAbsorbDuplicates merges-and-deletes the duplicate records.
	MergeStepAbsorbDuplicates MergeStep = "absorb_duplicates"
	// MergeStepAssignFunds fans the investor out across the requested funds.
	MergeStepAssignFunds MergeStep = "assign_funds"
)

// ExecutionStatus is the lifecycle state of a merge execution.
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// MergeRequest is the committed outcome of a reconciliation workflow.
// Constructed once when the user commits; never mutated after submission
// begins.
type MergeRequest struct {
	KeepID         string          `json:"keep_id"`
	AbsorbIDs      []string        `json:"absorb_ids"`
	ResolvedFields map[string]any  `json:"resolved_fields"`
	NewAssignments []AssignmentRow `json:"new_assignments"`

	// ExistingFundIDs are the funds already attached to any of the original
	// records, including the ones being absorbed. Requested funds are
	// set-subtracted against these before the fan-out call.
	ExistingFundIDs []string `json:"existing_fund_ids"`
}

// MergeResult is the user-visible outcome of a merge execution, including
// partial outcomes.
type MergeResult struct {
	ExecutionID        string              `json:"execution_id"`
	Updated            bool                `json:"updated"`
	Absorbed           []string            `json:"absorbed"`
	CreatedAssignments []CreatedAssignment `json:"created_assignments"`
	AlreadyAssigned    []AlreadyAssigned   `json:"already_assigned"`

	// FailedStep names the step that stopped the sequence, empty on full
	// success. Effects of earlier steps stand and must be reported to the user.
	FailedStep MergeStep `json:"failed_step,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// MergeExecution is the persisted audit record for one orchestrator run. The
// step cursor makes partial failures reportable and retryable per step instead
// of as an opaque failure.
type MergeExecution struct {
	ID          string          `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	KeepID      string          `db:"keep_id" json:"keep_id"`
	AbsorbIDs   json.RawMessage `db:"absorb_ids" json:"absorb_ids"`
	Status      ExecutionStatus `db:"status" json:"status"`
	StepCursor  MergeStep       `db:"step_cursor" json:"step_cursor"`
	FailedStep  *MergeStep      `db:"failed_step" json:"failed_step,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	RequestedBy string          `db:"requested_by" json:"requested_by"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}
