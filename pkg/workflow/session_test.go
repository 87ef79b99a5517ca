package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/assignment"
	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/fields"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/options"
)

type stubAPI struct {
	crm.API
	managers map[string][]models.Manager
	stages   map[string][]models.PipelineStage
}

func (s *stubAPI) GetFundManagers(ctx context.Context, fundID string) ([]models.Manager, error) {
	return s.managers[fundID], nil
}

func (s *stubAPI) GetPipelineStages(ctx context.Context, fundID string) ([]models.PipelineStage, error) {
	return s.stages[fundID], nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testRecords() []*models.CandidateRecord {
	return []*models.CandidateRecord{
		{
			ID:        "inv-1",
			CreatedAt: "2024-01-01T00:00:00Z",
			Fields:    map[string]any{"investor_name": "Acme Capital", "city": ""},
		},
		{
			ID:        "inv-2",
			CreatedAt: "2024-03-01T00:00:00Z",
			Fields:    map[string]any{"investor_name": "ACME Cap", "city": "London"},
		},
	}
}

func newTestSession(t *testing.T, records []*models.CandidateRecord) *Session {
	t.Helper()
	return newSessionWithAPI(t, records, &stubAPI{})
}

func newSessionWithAPI(t *testing.T, records []*models.CandidateRecord, api crm.API) *Session {
	t.Helper()
	funds := []models.Fund{{ID: "fund-a", Name: "Fund A"}, {ID: "fund-b", Name: "Fund B"}, {ID: "fund-c", Name: "Fund C"}}
	cache := options.NewCache(api, testLogger())
	return newSession("sess-1", "tenant-1", "user-1", "inv-1,inv-2", records, funds, []string{"fund-b"}, cache, nil)
}

// gatedAPI signals when the manager fetch starts and blocks it until released,
// so tests can interleave slot mutations with an in-flight fetch.
type gatedAPI struct {
	crm.API
	startedOnce sync.Once
	started     chan struct{}
	release     chan struct{}
}

func (g *gatedAPI) GetFundManagers(ctx context.Context, fundID string) ([]models.Manager, error) {
	g.startedOnce.Do(func() { close(g.started) })
	<-g.release
	return nil, nil
}

func (g *gatedAPI) GetPipelineStages(ctx context.Context, fundID string) ([]models.PipelineStage, error) {
	return []models.PipelineStage{{ID: "stage-2", Name: "Investors", Position: 0}}, nil
}

// failingOptionsAPI fails the manager half of every option fetch.
type failingOptionsAPI struct {
	crm.API
}

func (f *failingOptionsAPI) GetFundManagers(ctx context.Context, fundID string) ([]models.Manager, error) {
	return nil, errors.New("roster backend down")
}

func (f *failingOptionsAPI) GetPipelineStages(ctx context.Context, fundID string) ([]models.PipelineStage, error) {
	return nil, nil
}

func TestSessionInitialState(t *testing.T) {
	s := newTestSession(t, testRecords())

	assert.Equal(t, StepReconcile, s.Step())
	assert.Equal(t, "inv-1", s.KeepID())
	assert.Equal(t, []string{"inv-2"}, s.AbsorbIDs())

	resolutions, err := s.Resolutions()
	require.NoError(t, err)
	assert.Equal(t, "Acme Capital", resolutions["investor_name"].Value)
	assert.Equal(t, 0, resolutions["investor_name"].Source)
	// The oldest record's city is empty, so the newer one supplies it.
	assert.Equal(t, "London", resolutions["city"].Value)
	assert.Equal(t, 1, resolutions["city"].Source)
}

func TestAdvanceGatedOnIdentity(t *testing.T) {
	records := testRecords()
	records[0].Fields["investor_name"] = ""
	records[1].Fields["investor_name"] = ""
	s := newTestSession(t, records)

	assert.ErrorIs(t, s.Advance(), ErrIdentityRequired)
	assert.Equal(t, StepReconcile, s.Step())

	require.NoError(t, s.EditField("investor_name", "Acme Capital"))
	require.NoError(t, s.Advance())
	assert.Equal(t, StepAssignFunds, s.Step())
}

func TestBackPreservesState(t *testing.T) {
	s := newTestSession(t, testRecords())
	require.NoError(t, s.EditField("city", "Dubai"))
	require.NoError(t, s.Advance())
	_, err := s.SetFund(context.Background(), 0, "fund-a")
	require.NoError(t, err)

	require.NoError(t, s.Back())
	assert.Equal(t, StepReconcile, s.Step())

	resolutions, err := s.Resolutions()
	require.NoError(t, err)
	assert.Equal(t, "Dubai", resolutions["city"].Value)
	assert.Equal(t, fields.SourceCustom, resolutions["city"].Source)

	slots, err := s.Slots()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "fund-a", slots[0].FundID)
}

func TestBuildMergeRequestGates(t *testing.T) {
	s := newTestSession(t, testRecords())

	_, err := s.BuildMergeRequest()
	assert.ErrorIs(t, err, ErrNotOnAssignStep)

	require.NoError(t, s.Advance())
	_, err = s.BuildMergeRequest()
	assert.ErrorIs(t, err, ErrNoPopulatedSlots)

	_, err = s.SetFund(context.Background(), 0, "fund-a")
	require.NoError(t, err)

	req, err := s.BuildMergeRequest()
	require.NoError(t, err)
	assert.Equal(t, "inv-1", req.KeepID)
	assert.Equal(t, []string{"inv-2"}, req.AbsorbIDs)
	assert.Equal(t, "Acme Capital", req.ResolvedFields["investor_name"])
	require.Len(t, req.NewAssignments, 1)
	assert.Equal(t, "fund-a", req.NewAssignments[0].FundID)
	assert.Equal(t, []string{"fund-b"}, req.ExistingFundIDs)
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	s := newTestSession(t, testRecords())
	s.Close(context.Background())

	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.EditField("city", "Dubai"), ErrSessionClosed)
	assert.ErrorIs(t, s.Advance(), ErrSessionClosed)
	_, err := s.SetFund(context.Background(), 0, "fund-a")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.BuildMergeRequest()
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Close is idempotent.
	s.Close(context.Background())
}

func TestSetFundDiscardsLateFetchAfterRemoveSlot(t *testing.T) {
	api := &gatedAPI{started: make(chan struct{}), release: make(chan struct{})}
	s := newSessionWithAPI(t, testRecords(), api)
	require.NoError(t, s.AddSlot())

	done := make(chan error, 1)
	go func() {
		_, err := s.SetFund(context.Background(), 1, "fund-a")
		done <- err
	}()
	<-api.started

	// The slot disappears while the option fetch is still in flight.
	require.NoError(t, s.RemoveSlot(1))
	close(api.release)

	err := <-done
	assert.ErrorIs(t, err, assignment.ErrSlotOutOfRange)

	slots, err := s.Slots()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Empty(t, slots[0].FundID)
	assert.Empty(t, slots[0].StageID, "the late default stage must not land on the surviving slot")
}

func TestSetFundDiscardsLateFetchAfterReselection(t *testing.T) {
	api := &gatedAPI{started: make(chan struct{}), release: make(chan struct{})}
	s := newSessionWithAPI(t, testRecords(), api)

	done := make(chan error, 1)
	go func() {
		_, err := s.SetFund(context.Background(), 0, "fund-a")
		done <- err
	}()
	<-api.started

	// The slot is re-pointed at another fund before the first fetch lands.
	s.mu.Lock()
	require.NoError(t, s.set.SelectFund(0, "fund-c"))
	s.mu.Unlock()
	close(api.release)

	err := <-done
	assert.ErrorIs(t, err, assignment.ErrStaleSlot)

	slots, err := s.Slots()
	require.NoError(t, err)
	assert.Equal(t, "fund-c", slots[0].FundID)
}

func TestSetFundReportsUnavailableOptions(t *testing.T) {
	s := newSessionWithAPI(t, testRecords(), &failingOptionsAPI{})

	fundCtx, err := s.SetFund(context.Background(), 0, "fund-a")
	require.NoError(t, err, "an option fetch failure keeps the workflow usable")

	assert.Equal(t, string(options.StateFailed), fundCtx.OptionsState)
	assert.Contains(t, fundCtx.OptionsError, "roster backend down")
	assert.Empty(t, fundCtx.Managers)

	statuses, err := s.OptionStatuses()
	require.NoError(t, err)
	require.Contains(t, statuses, "fund-a")
	assert.Equal(t, string(options.StateFailed), statuses["fund-a"].State)
	assert.NotEmpty(t, statuses["fund-a"].Error)
}

func TestStoreExpiresIdleSessions(t *testing.T) {
	store := NewStore(10*time.Millisecond, 5*time.Millisecond, testLogger())
	defer store.Shutdown(context.Background())

	s := newTestSession(t, testRecords())
	store.Put(s)

	require.Eventually(t, func() bool {
		_, err := store.Get(s.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond, "idle session should be swept")
	assert.True(t, s.Closed())
}
