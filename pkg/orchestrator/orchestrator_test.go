package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeAPI struct {
	crm.API

	calls []string

	updateErr  error
	mergeErr   error
	assignErr  error
	assignRows []models.AssignmentRow
	outcome    *models.AssignmentOutcome
}

func (f *fakeAPI) UpdateInvestor(ctx context.Context, investorID string, fields map[string]any) error {
	f.calls = append(f.calls, "update:"+investorID)
	return f.updateErr
}

func (f *fakeAPI) MergeInvestors(ctx context.Context, keepID string, absorbIDs []string) error {
	f.calls = append(f.calls, "merge:"+keepID)
	return f.mergeErr
}

func (f *fakeAPI) CreateFundAssignments(ctx context.Context, investorID string, rows []models.AssignmentRow) (*models.AssignmentOutcome, error) {
	f.calls = append(f.calls, "assign:"+investorID)
	f.assignRows = rows
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &models.AssignmentOutcome{}, nil
}

type fakeStore struct {
	created   *models.MergeExecution
	cursor    []models.MergeStep
	completed bool
	failed    bool
	failStep  models.MergeStep
}

func (f *fakeStore) Create(ctx context.Context, execution *models.MergeExecution) (*models.MergeExecution, error) {
	execution.ID = "exec-1"
	execution.Status = models.ExecutionStatusPending
	f.created = execution
	return execution, nil
}

func (f *fakeStore) Get(ctx context.Context, tenantID, id string) (*models.MergeExecution, error) {
	if f.created == nil || f.created.ID != id {
		return nil, errors.New("merge execution not found")
	}
	return f.created, nil
}

func (f *fakeStore) AdvanceCursor(ctx context.Context, tenantID, id string, step models.MergeStep) error {
	f.cursor = append(f.cursor, step)
	f.created.Status = models.ExecutionStatusRunning
	f.created.StepCursor = step
	f.created.FailedStep = nil
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, tenantID, id string, result json.RawMessage) error {
	f.completed = true
	f.created.Status = models.ExecutionStatusSuccess
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, tenantID, id string, step models.MergeStep, cause string, result json.RawMessage) error {
	f.failed = true
	f.failStep = step
	f.created.Status = models.ExecutionStatusFailed
	f.created.FailedStep = &step
	return nil
}

func newTestOrchestrator(api *fakeAPI, store *fakeStore) *Orchestrator {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return New(api, store, events.NewEmitter(nil, logger), logger)
}

func testRequest() *models.MergeRequest {
	return &models.MergeRequest{
		KeepID:         "inv-1",
		AbsorbIDs:      []string{"inv-2", "inv-3"},
		ResolvedFields: map[string]any{"investor_name": "Acme Capital"},
		NewAssignments: []models.AssignmentRow{
			{FundID: "fund-a", ManagerID: "mgr-1", StageID: "stage-1"},
		},
	}
}

func TestExecuteRunsAllStepsInOrder(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"update:inv-1", "merge:inv-1", "assign:inv-1"}, api.calls)
	assert.True(t, result.Updated)
	assert.Equal(t, []string{"inv-2", "inv-3"}, result.Absorbed)
	assert.Empty(t, result.FailedStep)
	assert.True(t, store.completed)
	assert.Equal(t, []models.MergeStep{
		models.MergeStepUpdateCanonical,
		models.MergeStepAbsorbDuplicates,
		models.MergeStepAssignFunds,
	}, store.cursor)
}

func TestExecuteSkipsAbsorbForSingleRecord(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	req := testRequest()
	req.AbsorbIDs = nil

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)

	assert.Equal(t, []string{"update:inv-1", "assign:inv-1"}, api.calls)
	assert.Empty(t, result.Absorbed)
	assert.Empty(t, result.FailedStep)
}

func TestExecuteSkipsAssignWhenNothingToAssign(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	req := testRequest()
	req.NewAssignments = nil

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)

	assert.Equal(t, []string{"update:inv-1", "merge:inv-1"}, api.calls)
	assert.Empty(t, result.CreatedAssignments)
	assert.True(t, store.completed)
}

func TestExecuteSubtractsExistingFunds(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	req := testRequest()
	req.NewAssignments = []models.AssignmentRow{
		{FundID: "fund-a"},
		{FundID: "fund-b"},
		{FundID: "fund-c"},
	}
	req.ExistingFundIDs = []string{"fund-a", "fund-c"}

	_, err := o.Execute(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)

	require.Len(t, api.assignRows, 1)
	assert.Equal(t, "fund-b", api.assignRows[0].FundID)
}

func TestExecuteSkipsAssignWhenAllFundsExisting(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	req := testRequest()
	req.ExistingFundIDs = []string{"fund-a"}

	_, err := o.Execute(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)
	assert.NotContains(t, api.calls, "assign:inv-1")
}

func TestExecuteFailsOnUpdateCanonical(t *testing.T) {
	api := &fakeAPI{updateErr: errors.New("backend down")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)

	assert.False(t, result.Updated)
	assert.Empty(t, result.Absorbed)
	assert.Equal(t, models.MergeStepUpdateCanonical, result.FailedStep)
	assert.Equal(t, "backend down", result.Error)
	assert.Equal(t, []string{"update:inv-1"}, api.calls, "later steps must not run")
	assert.True(t, store.failed)
	assert.Equal(t, models.MergeStepUpdateCanonical, store.failStep)
}

func TestExecuteFailsOnAbsorbKeepsCanonicalUpdate(t *testing.T) {
	api := &fakeAPI{mergeErr: errors.New("merge rejected")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)

	// The canonical write stands: the duplicates still exist and the result
	// must say both things.
	assert.True(t, result.Updated)
	assert.Empty(t, result.Absorbed)
	assert.Equal(t, models.MergeStepAbsorbDuplicates, result.FailedStep)
	assert.NotContains(t, api.calls, "assign:inv-1")
}

func TestExecuteFailsOnAssignKeepsEarlierSteps(t *testing.T) {
	api := &fakeAPI{assignErr: errors.New("fan-out failed")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)

	assert.True(t, result.Updated)
	assert.Equal(t, []string{"inv-2", "inv-3"}, result.Absorbed)
	assert.Equal(t, models.MergeStepAssignFunds, result.FailedStep)
}

func TestResumeAfterAssignFailureSkipsEarlierSteps(t *testing.T) {
	api := &fakeAPI{assignErr: errors.New("fan-out failed")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)
	require.Equal(t, models.MergeStepAssignFunds, result.FailedStep)

	// The duplicates were absorbed and no longer exist; the retry must not
	// touch the update or merge endpoints again.
	api.assignErr = nil
	api.calls = nil

	result, err = o.Resume(context.Background(), "tenant-1", result.ExecutionID, testRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"assign:inv-1"}, api.calls)
	assert.True(t, result.Updated)
	assert.Equal(t, []string{"inv-2", "inv-3"}, result.Absorbed)
	assert.Empty(t, result.FailedStep)
	assert.True(t, store.completed)
}

func TestResumeAfterAbsorbFailureSkipsCanonicalUpdate(t *testing.T) {
	api := &fakeAPI{mergeErr: errors.New("merge rejected")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)
	require.Equal(t, models.MergeStepAbsorbDuplicates, result.FailedStep)

	api.mergeErr = nil
	api.calls = nil

	result, err = o.Resume(context.Background(), "tenant-1", result.ExecutionID, testRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"merge:inv-1", "assign:inv-1"}, api.calls)
	assert.True(t, result.Updated, "the canonical write from the first run still stands")
	assert.Equal(t, []string{"inv-2", "inv-3"}, result.Absorbed)
	assert.Empty(t, result.FailedStep)
}

func TestResumeRerunsFirstStepWhenItFailed(t *testing.T) {
	api := &fakeAPI{updateErr: errors.New("backend down")}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)
	require.Equal(t, models.MergeStepUpdateCanonical, result.FailedStep)

	api.updateErr = nil
	api.calls = nil

	result, err = o.Resume(context.Background(), "tenant-1", result.ExecutionID, testRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"update:inv-1", "merge:inv-1", "assign:inv-1"}, api.calls)
	assert.Empty(t, result.FailedStep)
}

func TestResumeRejectsNonFailedExecution(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", testRequest())
	require.NoError(t, err)
	require.Empty(t, result.FailedStep)

	_, err = o.Resume(context.Background(), "tenant-1", result.ExecutionID, testRequest())
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestExecutePassesThroughAlreadyAssigned(t *testing.T) {
	api := &fakeAPI{
		outcome: &models.AssignmentOutcome{
			Created: []models.CreatedAssignment{{AssignmentID: "a-1", FundID: "fund-a"}},
			AlreadyAssigned: []models.AlreadyAssigned{
				{FundID: "fund-b", FundName: "Fund B", Reason: "Investor is already assigned to this fund"},
			},
		},
	}
	store := &fakeStore{}
	o := newTestOrchestrator(api, store)

	req := testRequest()
	req.NewAssignments = append(req.NewAssignments, models.AssignmentRow{FundID: "fund-b"})

	result, err := o.Execute(context.Background(), "tenant-1", "user-1", req)
	require.NoError(t, err)

	require.Len(t, result.CreatedAssignments, 1)
	require.Len(t, result.AlreadyAssigned, 1)
	assert.Equal(t, "fund-b", result.AlreadyAssigned[0].FundID)
	assert.Empty(t, result.FailedStep, "already-assigned is a warning, not a failure")
}
