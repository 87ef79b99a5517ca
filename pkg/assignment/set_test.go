package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func newTestSet(existing []string) *Set {
	funds := []models.Fund{
		{ID: "fund-a", Name: "Fund A"},
		{ID: "fund-b", Name: "Fund B"},
		{ID: "fund-c", Name: "Fund C"},
	}
	return NewSet(funds, existing)
}

func TestNewSetStartsWithOneEmptySlot(t *testing.T) {
	set := newTestSet(nil)

	slots := set.Slots()
	require.Len(t, slots, 1)
	assert.False(t, slots[0].Populated())
	assert.False(t, set.ReadyToSubmit())
}

func TestRemoveSlotKeepsLastSlot(t *testing.T) {
	set := newTestSet(nil)

	set.RemoveSlot(0)
	assert.Len(t, set.Slots(), 1, "removing the only slot should be a no-op")

	set.AddSlot()
	set.RemoveSlot(0)
	assert.Len(t, set.Slots(), 1)
}

func TestApplyFundContextSetsDefaultStage(t *testing.T) {
	set := newTestSet(nil)

	require.NoError(t, set.SelectFund(0, "fund-b"))
	require.NoError(t, set.ApplyFundContext(0, "fund-b", &models.FundContext{
		FundID:         "fund-b",
		DefaultStageID: "stage-2",
	}))

	slots := set.Slots()
	assert.Equal(t, "fund-b", slots[0].FundID)
	assert.Equal(t, "stage-2", slots[0].StageID)
	assert.Empty(t, slots[0].ManagerID)
}

func TestSelectFundClearsManagerAndStage(t *testing.T) {
	set := newTestSet(nil)

	require.NoError(t, set.SelectFund(0, "fund-b"))
	require.NoError(t, set.SetManager(0, "mgr-1"))
	require.NoError(t, set.SetStage(0, "stage-2"))

	// Changing the fund invalidates the manager/stage chosen for the old fund.
	require.NoError(t, set.SelectFund(0, "fund-a"))

	slots := set.Slots()
	assert.Equal(t, "fund-a", slots[0].FundID)
	assert.Empty(t, slots[0].ManagerID)
	assert.Empty(t, slots[0].StageID)
}

func TestSelectFundRejectsDuplicateAcrossSlots(t *testing.T) {
	set := newTestSet(nil)

	require.NoError(t, set.SelectFund(0, "fund-a"))

	set.AddSlot()
	assert.ErrorIs(t, set.SelectFund(1, "fund-a"), ErrFundUnavailable)
}

func TestSelectFundRejectsExistingAttachment(t *testing.T) {
	set := newTestSet([]string{"fund-c"})

	assert.ErrorIs(t, set.SelectFund(0, "fund-c"), ErrFundUnavailable)
}

func TestSelectFundRejectsBadIndex(t *testing.T) {
	set := newTestSet(nil)

	assert.ErrorIs(t, set.SelectFund(3, "fund-a"), ErrSlotOutOfRange)
	assert.ErrorIs(t, set.SetManager(-1, "mgr-1"), ErrSlotOutOfRange)
	assert.ErrorIs(t, set.SetStage(5, "stage-1"), ErrSlotOutOfRange)
}

func TestApplyFundContextDiscardsRemovedSlot(t *testing.T) {
	set := newTestSet(nil)
	set.AddSlot()
	require.NoError(t, set.SelectFund(1, "fund-a"))

	// The slot disappears while the option fetch is in flight.
	set.RemoveSlot(1)

	err := set.ApplyFundContext(1, "fund-a", &models.FundContext{FundID: "fund-a", DefaultStageID: "stage-1"})
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	slots := set.Slots()
	require.Len(t, slots, 1)
	assert.Empty(t, slots[0].StageID, "the late outcome must not land on the surviving slot")
}

func TestApplyFundContextDiscardsReplacedFund(t *testing.T) {
	set := newTestSet(nil)
	require.NoError(t, set.SelectFund(0, "fund-a"))
	require.NoError(t, set.SelectFund(0, "fund-b"))

	err := set.ApplyFundContext(0, "fund-a", &models.FundContext{FundID: "fund-a", DefaultStageID: "stage-1"})
	assert.ErrorIs(t, err, ErrStaleSlot)

	slots := set.Slots()
	assert.Equal(t, "fund-b", slots[0].FundID)
	assert.Empty(t, slots[0].StageID)
}

func TestAvailableFundsExcludesOtherSlotsAndExisting(t *testing.T) {
	set := newTestSet([]string{"fund-c"})

	require.NoError(t, set.SelectFund(0, "fund-a"))
	set.AddSlot()

	available := set.AvailableFunds(1)
	require.Len(t, available, 1)
	assert.Equal(t, "fund-b", available[0].ID)

	// The slot's own selection stays selectable for itself.
	own := set.AvailableFunds(0)
	ids := make([]string, 0, len(own))
	for _, f := range own {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"fund-a", "fund-b"}, ids)
}

func TestPopulatedRowsSkipsEmptySlots(t *testing.T) {
	set := newTestSet(nil)

	require.NoError(t, set.SelectFund(0, "fund-a"))
	set.AddSlot()

	rows := set.PopulatedRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "fund-a", rows[0].FundID)
	assert.True(t, set.ReadyToSubmit())
}
