package models

// AssignmentRow is one pending fund attachment in the workflow: the fund the
// investor is being newly linked to plus its manager/stage context. Fund IDs
// across rows in a set are pairwise distinct and disjoint from the investor's
// pre-existing attachments.
type AssignmentRow struct {
	FundID    string `json:"fund_id"`
	ManagerID string `json:"assigned_manager_id,omitempty"`
	StageID   string `json:"initial_stage_id,omitempty"`
}

// Populated reports whether the row targets a fund.
func (r AssignmentRow) Populated() bool {
	return r.FundID != ""
}

// CreatedAssignment is one fund the backend successfully attached.
type CreatedAssignment struct {
	AssignmentID string `json:"assignment_id"`
	FundID       string `json:"fund_id"`
	FundName     string `json:"fund_name,omitempty"`
	ManagerID    string `json:"assigned_manager_id,omitempty"`
	StageID      string `json:"initial_stage_id,omitempty"`
}

// AlreadyAssigned is a fund the backend reports as already linked, surfaced as
// a non-fatal warning rather than an error.
type AlreadyAssigned struct {
	FundID   string `json:"fund_id"`
	FundName string `json:"fund_name,omitempty"`
	Reason   string `json:"reason"`
}

// AssignmentOutcome is the backend's bulk fan-out response partition.
type AssignmentOutcome struct {
	Created         []CreatedAssignment `json:"created_assignments"`
	AlreadyAssigned []AlreadyAssigned   `json:"already_assigned"`
}
