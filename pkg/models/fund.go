package models

// Fund is read-only reference data for the lifetime of a workflow session.
type Fund struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"fund_type,omitempty"`
}

// Manager is a fund manager eligible to own an investor relationship in a fund.
type Manager struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// PipelineStage is one stage of a fund's pipeline, ordered by position.
type PipelineStage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// FundContext is the per-fund reference data a new assignment row depends on:
// the manager roster and the ordered stage list. Created lazily, cached for the
// session, never invalidated mid-session.
type FundContext struct {
	FundID         string          `json:"fund_id"`
	Managers       []Manager       `json:"managers"`
	Stages         []PipelineStage `json:"stages"`
	DefaultStageID string          `json:"default_stage_id,omitempty"`

	// OptionsState distinguishes a fund with genuinely empty rosters from one
	// whose fetch failed; OptionsError carries the retained fetch error.
	OptionsState string `json:"options_state,omitempty"`
	OptionsError string `json:"options_error,omitempty"`
}

// FundOptionsStatus is the per-fund option availability reported in session
// views for slots whose fund has been selected.
type FundOptionsStatus struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Assignment is an existing investor-fund link as reported by the backend.
// Legacy assignments come from the investor profile's original fund and cannot
// be removed.
type Assignment struct {
	ID          string `json:"id"`
	InvestorID  string `json:"investor_id"`
	FundID      string `json:"fund_id"`
	FundName    string `json:"fund_name,omitempty"`
	ManagerID   string `json:"assigned_manager_id,omitempty"`
	ManagerName string `json:"assigned_manager_name,omitempty"`
	StageID     string `json:"stage_id,omitempty"`
	IsLegacy    bool   `json:"is_legacy,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}
