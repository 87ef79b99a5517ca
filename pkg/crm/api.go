package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Ramsey-B/clover/pkg/models"
)

// API is the collaborator surface clover consumes. The workflow and
// orchestrator packages depend on this interface so tests can substitute a
// recording fake.
type API interface {
	ListFunds(ctx context.Context) ([]models.Fund, error)
	GetFundManagers(ctx context.Context, fundID string) ([]models.Manager, error)
	GetPipelineStages(ctx context.Context, fundID string) ([]models.PipelineStage, error)
	GetInvestorAssignments(ctx context.Context, investorID string) ([]models.Assignment, error)
	GetInvestorDetail(ctx context.Context, investorID string) (*models.CandidateRecord, error)
	UpdateInvestor(ctx context.Context, investorID string, fields map[string]any) error
	MergeInvestors(ctx context.Context, keepID string, absorbIDs []string) error
	CreateFundAssignments(ctx context.Context, investorID string, rows []models.AssignmentRow) (*models.AssignmentOutcome, error)
	DeleteAssignment(ctx context.Context, assignmentID string) error
	GetDuplicateGroups(ctx context.Context) (*models.DuplicateReport, error)
}

var _ API = (*Client)(nil)

// ListFunds returns all funds visible to the service.
func (c *Client) ListFunds(ctx context.Context) ([]models.Fund, error) {
	var funds []models.Fund
	if err := c.do(ctx, http.MethodGet, "/funds", nil, &funds); err != nil {
		return nil, err
	}
	return funds, nil
}

// GetFundManagers returns the manager roster for a fund.
func (c *Client) GetFundManagers(ctx context.Context, fundID string) ([]models.Manager, error) {
	var resp struct {
		FundID       string           `json:"fund_id"`
		FundName     string           `json:"fund_name"`
		FundManagers []models.Manager `json:"fund_managers"`
	}
	path := fmt.Sprintf("/admin/funds/%s/fund-managers", fundID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.FundManagers, nil
}

// GetPipelineStages returns a fund's pipeline stages ordered by position.
func (c *Client) GetPipelineStages(ctx context.Context, fundID string) ([]models.PipelineStage, error) {
	var stages []models.PipelineStage
	path := fmt.Sprintf("/funds/%s/pipeline-stages", fundID)
	if err := c.do(ctx, http.MethodGet, path, nil, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// GetInvestorAssignments returns an investor's existing fund assignments,
// including the non-removable legacy attachment flagged is_legacy.
func (c *Client) GetInvestorAssignments(ctx context.Context, investorID string) ([]models.Assignment, error) {
	var resp struct {
		InvestorID  string              `json:"investor_id"`
		Assignments []models.Assignment `json:"assignments"`
		TotalFunds  int                 `json:"total_funds"`
	}
	path := fmt.Sprintf("/investors/%s/assignments", investorID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assignments, nil
}

// GetInvestorDetail returns one investor's full attribute set.
func (c *Client) GetInvestorDetail(ctx context.Context, investorID string) (*models.CandidateRecord, error) {
	var raw map[string]any
	path := fmt.Sprintf("/investor-profiles/%s", investorID)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	record := &models.CandidateRecord{Fields: raw}
	if id, ok := raw["id"].(string); ok {
		record.ID = id
	}
	if createdAt, ok := raw["created_at"].(string); ok {
		record.CreatedAt = createdAt
	}
	if fundID, ok := raw["fund_id"].(string); ok {
		record.FundID = fundID
	}
	if source, ok := raw["source"].(string); ok {
		record.Source = source
	}
	return record, nil
}

// UpdateInvestor writes a partial field map onto an investor record.
func (c *Client) UpdateInvestor(ctx context.Context, investorID string, fields map[string]any) error {
	path := fmt.Sprintf("/investor-profiles/%s", investorID)
	return c.do(ctx, http.MethodPut, path, fields, nil)
}

type mergeInvestorsRequest struct {
	KeepInvestorID    string   `json:"keep_investor_id"`
	DeleteInvestorIDs []string `json:"delete_investor_ids"`
}

// MergeInvestors asks the backend to absorb the duplicates into the kept
// record. The backend transfers related child data (notes, call logs,
// evidence, tasks) and deletes the absorbed records.
func (c *Client) MergeInvestors(ctx context.Context, keepID string, absorbIDs []string) error {
	req := mergeInvestorsRequest{
		KeepInvestorID:    keepID,
		DeleteInvestorIDs: absorbIDs,
	}
	var resp json.RawMessage
	return c.do(ctx, http.MethodPost, "/admin/merge-investors", req, &resp)
}

type createAssignmentsRequest struct {
	InvestorID      string                 `json:"investor_id"`
	FundAssignments []models.AssignmentRow `json:"fund_assignments"`
}

// CreateFundAssignments bulk-attaches the investor to funds. The backend
// partitions the outcome into created and already-assigned.
func (c *Client) CreateFundAssignments(ctx context.Context, investorID string, rows []models.AssignmentRow) (*models.AssignmentOutcome, error) {
	req := createAssignmentsRequest{
		InvestorID:      investorID,
		FundAssignments: rows,
	}
	var outcome models.AssignmentOutcome
	if err := c.do(ctx, http.MethodPost, "/admin/investor-fund-assignments", req, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// DeleteAssignment removes a single investor-fund link outside the merge flow.
func (c *Client) DeleteAssignment(ctx context.Context, assignmentID string) error {
	path := fmt.Sprintf("/admin/investor-fund-assignments/%s", assignmentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetDuplicateGroups returns the server-detected duplicate clusters.
func (c *Client) GetDuplicateGroups(ctx context.Context) (*models.DuplicateReport, error) {
	var report models.DuplicateReport
	if err := c.do(ctx, http.MethodGet, "/admin/duplicate-investors", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
