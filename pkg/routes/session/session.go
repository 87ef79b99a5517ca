// Package session exposes the reconciliation workflow over HTTP. Every route
// below /:id operates on one open session; the session id is the only server
// state the client holds.
package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/assignment"
	ctxmiddleware "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/fields"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/workflow"
)

var validate = validator.New()

// Register registers workflow session routes
func Register(g *echo.Group) {
	g.POST("", Open)
	g.GET("/:id", Get)
	g.POST("/:id/fields/:key/select-source", SelectSource)
	g.PUT("/:id/fields/:key", EditField)
	g.POST("/:id/advance", Advance)
	g.POST("/:id/back", Back)
	g.POST("/:id/slots", AddSlot)
	g.DELETE("/:id/slots/:index", RemoveSlot)
	g.PUT("/:id/slots/:index/fund", SetFund)
	g.PUT("/:id/slots/:index/manager", SetManager)
	g.PUT("/:id/slots/:index/stage", SetStage)
	g.GET("/:id/slots/:index/available-funds", AvailableFunds)
	g.POST("/:id/submit", Submit)
	g.DELETE("/:id", Cancel)
}

// OpenRequest is the request body for opening a session
type OpenRequest struct {
	InvestorIDs []string `json:"investor_ids" validate:"required,min=1,dive,required"`
}

// SessionResponse is the full session state view. OptionStatuses reports, per
// selected fund, whether its manager/stage options loaded or are unavailable.
type SessionResponse struct {
	ID             string                              `json:"id"`
	Step           workflow.Step                       `json:"step"`
	KeepID         string                              `json:"keep_id"`
	AbsorbIDs      []string                            `json:"absorb_ids"`
	Records        []*models.CandidateRecord           `json:"records"`
	Specs          []fields.Spec                       `json:"specs"`
	Resolutions    map[string]fields.Resolution        `json:"resolutions"`
	Slots          []models.AssignmentRow              `json:"slots"`
	OptionStatuses map[string]models.FundOptionsStatus `json:"option_statuses"`
}

func sessionResponse(s *workflow.Session) (*SessionResponse, error) {
	resolutions, err := s.Resolutions()
	if err != nil {
		return nil, err
	}
	slots, err := s.Slots()
	if err != nil {
		return nil, err
	}
	statuses, err := s.OptionStatuses()
	if err != nil {
		return nil, err
	}
	return &SessionResponse{
		ID:             s.ID,
		Step:           s.Step(),
		KeepID:         s.KeepID(),
		AbsorbIDs:      s.AbsorbIDs(),
		Records:        s.Records(),
		Specs:          fields.InvestorSpecs,
		Resolutions:    resolutions,
		Slots:          slots,
		OptionStatuses: statuses,
	}, nil
}

func getService(c echo.Context) (echo.Context, *workflow.Service, error) {
	ctx := c.Request().Context()
	ctx, svc, err := ectoinject.GetContext[*workflow.Service](ctx)
	if err != nil {
		return c, nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	c.SetRequest(c.Request().WithContext(ctx))
	return c, svc, nil
}

func getSession(c echo.Context) (*workflow.Service, *workflow.Session, error) {
	c, svc, err := getService(c)
	if err != nil {
		return nil, nil, err
	}
	session, err := svc.Get(c.Param("id"))
	if err != nil {
		return nil, nil, err
	}
	return svc, session, nil
}

func slotIndex(c echo.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "invalid slot index")
	}
	return index, nil
}

// Open starts a reconciliation session over a duplicate group
func Open(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Open")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	userID := ctxmiddleware.GetUserID(ctx)

	var req OpenRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*workflow.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	session, err := svc.Open(ctx, tenantID, userID, req.InvestorIDs)
	if err != nil {
		return err
	}

	resp, err := sessionResponse(session)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// Get returns the current session state
func Get(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	resp, err := sessionResponse(session)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// SelectSourceRequest picks one candidate record as a field's source
type SelectSourceRequest struct {
	RecordIndex *int `json:"record_index" validate:"required"`
}

// SelectSource re-points a field at one of the candidate records
func SelectSource(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	var req SelectSourceRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	key := c.Param("key")
	if !knownFieldKey(key) {
		return httperror.NewHTTPError(http.StatusNotFound, "unknown field key")
	}
	if *req.RecordIndex < 0 || *req.RecordIndex >= len(session.Records()) {
		return httperror.NewHTTPError(http.StatusBadRequest, "record_index out of range")
	}

	if err := session.SelectSource(key, *req.RecordIndex); err != nil {
		return sessionErr(err)
	}

	resolutions, err := session.Resolutions()
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "resolution": resolutions[key]})
}

// EditFieldRequest overrides a field with a hand-edited value
type EditFieldRequest struct {
	Value any `json:"value"`
}

// EditField overrides a field value
func EditField(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	var req EditFieldRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	key := c.Param("key")
	if !knownFieldKey(key) {
		return httperror.NewHTTPError(http.StatusNotFound, "unknown field key")
	}

	if err := session.EditField(key, req.Value); err != nil {
		return sessionErr(err)
	}

	resolutions, err := session.Resolutions()
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "resolution": resolutions[key]})
}

// Advance moves the session to the assign-funds step
func Advance(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	if err := session.Advance(); err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"step": session.Step()})
}

// Back returns the session to the reconcile step
func Back(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	if err := session.Back(); err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"step": session.Step()})
}

// AddSlot appends an empty assignment slot
func AddSlot(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	if err := session.AddSlot(); err != nil {
		return sessionErr(err)
	}
	slots, err := session.Slots()
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"slots": slots})
}

// RemoveSlot removes an assignment slot, keeping at least one
func RemoveSlot(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	index, err := slotIndex(c)
	if err != nil {
		return err
	}

	if err := session.RemoveSlot(index); err != nil {
		return sessionErr(err)
	}
	slots, err := session.Slots()
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"slots": slots})
}

// SetFundRequest selects a slot's fund
type SetFundRequest struct {
	FundID string `json:"fund_id" validate:"required"`
}

// SetFund selects a slot's fund and returns the fund's option context
func SetFund(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(c.Request().Context(), "session_handler.SetFund")
	defer span.End()

	index, err := slotIndex(c)
	if err != nil {
		return err
	}

	var req SetFundRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	fundCtx, err := session.SetFund(ctx, index, req.FundID)
	if err != nil {
		return sessionErr(err)
	}

	slots, err := session.Slots()
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"slots":        slots,
		"fund_context": fundCtx,
	})
}

// SetManagerRequest writes a slot's manager
type SetManagerRequest struct {
	ManagerID string `json:"assigned_manager_id"`
}

// SetManager writes a slot's manager
func SetManager(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	index, err := slotIndex(c)
	if err != nil {
		return err
	}

	var req SetManagerRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := session.SetManager(index, req.ManagerID); err != nil {
		return sessionErr(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetStageRequest writes a slot's initial stage
type SetStageRequest struct {
	StageID string `json:"initial_stage_id"`
}

// SetStage writes a slot's initial stage
func SetStage(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	index, err := slotIndex(c)
	if err != nil {
		return err
	}

	var req SetStageRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := session.SetStage(index, req.StageID); err != nil {
		return sessionErr(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AvailableFunds returns the funds selectable in a slot
func AvailableFunds(c echo.Context) error {
	_, session, err := getSession(c)
	if err != nil {
		return err
	}

	index, err := slotIndex(c)
	if err != nil {
		return err
	}

	funds, err := session.AvailableFunds(index)
	if err != nil {
		return sessionErr(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"funds": funds})
}

// Submit commits the session's merge request
func Submit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "session_handler.Submit")
	defer span.End()

	ctx, svc, err := ectoinject.GetContext[*workflow.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := svc.Submit(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Cancel discards the session without any remote write
func Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, svc, err := ectoinject.GetContext[*workflow.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	svc.Cancel(ctx, c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// sessionErr maps workflow errors onto HTTP statuses.
func sessionErr(err error) error {
	switch {
	case errors.Is(err, workflow.ErrSessionClosed):
		return httperror.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, workflow.ErrIdentityRequired),
		errors.Is(err, workflow.ErrNoPopulatedSlots),
		errors.Is(err, workflow.ErrNotOnAssignStep):
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, assignment.ErrFundUnavailable),
		errors.Is(err, assignment.ErrStaleSlot):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func knownFieldKey(key string) bool {
	for _, spec := range fields.InvestorSpecs {
		if spec.Key == key {
			return true
		}
	}
	return false
}
