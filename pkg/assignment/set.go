// Package assignment maintains the mutable set of pending fund assignment
// rows for one workflow session and enforces fund exclusivity across rows.
package assignment

import (
	"errors"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	// ErrSlotOutOfRange is returned when a slot index does not exist
	ErrSlotOutOfRange = errors.New("assignment slot index out of range")

	// ErrFundUnavailable is returned when a fund is already selected in
	// another slot or already attached to the investor
	ErrFundUnavailable = errors.New("fund is not available for assignment")

	// ErrStaleSlot is returned when a fetched fund context arrives for a slot
	// whose fund has changed in the meantime
	ErrStaleSlot = errors.New("slot changed while fund options were loading")
)

// Set is an ordered collection of assignment slots. Invariants: at least one
// slot always exists, and the non-empty fund ids across slots form a set
// disjoint from the investor's existing fund attachments. Set is not
// goroutine safe; the owning session serializes access.
type Set struct {
	allFunds []models.Fund
	existing map[string]bool
	slots    []models.AssignmentRow
}

// NewSet creates an assignment set over the session's fund list and the
// investor's pre-existing fund ids, starting with a single empty slot.
func NewSet(allFunds []models.Fund, existingFundIDs []string) *Set {
	existing := make(map[string]bool, len(existingFundIDs))
	for _, id := range existingFundIDs {
		existing[id] = true
	}
	return &Set{
		allFunds: allFunds,
		existing: existing,
		slots:    []models.AssignmentRow{{}},
	}
}

// AddSlot appends an empty slot.
func (s *Set) AddSlot() {
	s.slots = append(s.slots, models.AssignmentRow{})
}

// RemoveSlot removes a slot. Removing the last remaining slot is a no-op: the
// user always has an active row to fill.
func (s *Set) RemoveSlot(index int) {
	if len(s.slots) <= 1 || index < 0 || index >= len(s.slots) {
		return
	}
	s.slots = append(s.slots[:index], s.slots[index+1:]...)
}

// SelectFund assigns a fund to a slot and clears the slot's manager and stage.
// Selecting a fund held by another slot, or one the investor is already
// attached to, is rejected.
func (s *Set) SelectFund(index int, fundID string) error {
	if index < 0 || index >= len(s.slots) {
		return ErrSlotOutOfRange
	}
	if !s.isAvailable(fundID, index) {
		return ErrFundUnavailable
	}
	s.slots[index] = models.AssignmentRow{FundID: fundID}
	return nil
}

// ApplyFundContext applies a fetched option context to a slot. The slot is
// re-validated first: an outcome landing after the slot was removed, or after
// its fund changed, is stale and must be discarded rather than applied.
func (s *Set) ApplyFundContext(index int, fundID string, fundCtx *models.FundContext) error {
	if index < 0 || index >= len(s.slots) {
		return ErrSlotOutOfRange
	}
	if s.slots[index].FundID != fundID {
		return ErrStaleSlot
	}
	if fundCtx.DefaultStageID != "" {
		s.slots[index].StageID = fundCtx.DefaultStageID
	}
	return nil
}

// SetManager writes a slot's manager. No side effects.
func (s *Set) SetManager(index int, managerID string) error {
	if index < 0 || index >= len(s.slots) {
		return ErrSlotOutOfRange
	}
	s.slots[index].ManagerID = managerID
	return nil
}

// SetStage writes a slot's initial stage. No side effects.
func (s *Set) SetStage(index int, stageID string) error {
	if index < 0 || index >= len(s.slots) {
		return ErrSlotOutOfRange
	}
	s.slots[index].StageID = stageID
	return nil
}

// AvailableFunds returns the funds selectable in a slot: all funds minus the
// investor's existing attachments and minus funds selected in any other slot.
func (s *Set) AvailableFunds(index int) []models.Fund {
	available := make([]models.Fund, 0, len(s.allFunds))
	for _, fund := range s.allFunds {
		if s.isAvailable(fund.ID, index) {
			available = append(available, fund)
		}
	}
	return available
}

// Slots returns a copy of all slots in order.
func (s *Set) Slots() []models.AssignmentRow {
	out := make([]models.AssignmentRow, len(s.slots))
	copy(out, s.slots)
	return out
}

// PopulatedRows returns the slots that target a fund, in order.
func (s *Set) PopulatedRows() []models.AssignmentRow {
	rows := make([]models.AssignmentRow, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.Populated() {
			rows = append(rows, slot)
		}
	}
	return rows
}

// ExistingFundIDs returns the investor's pre-existing fund attachments.
func (s *Set) ExistingFundIDs() []string {
	out := make([]string, 0, len(s.existing))
	for id := range s.existing {
		out = append(out, id)
	}
	return out
}

// ReadyToSubmit reports whether at least one slot targets a fund.
func (s *Set) ReadyToSubmit() bool {
	return len(s.PopulatedRows()) > 0
}

func (s *Set) isAvailable(fundID string, forIndex int) bool {
	if fundID == "" || s.existing[fundID] {
		return false
	}
	for i, slot := range s.slots {
		if i != forIndex && slot.FundID == fundID {
			return false
		}
	}
	return true
}
