// Package assignments exposes assignment maintenance outside the merge flow.
package assignments

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers assignment routes
func Register(g *echo.Group) {
	g.GET("/investors/:investorId", ListForInvestor)
	g.DELETE("/:id", Delete)
}

// ListForInvestor returns an investor's existing fund assignments, including
// the non-removable legacy attachment.
func ListForInvestor(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "assignments_handler.ListForInvestor")
	defer span.End()

	ctx, api, err := ectoinject.GetContext[crm.API](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	assignments, err := api.GetInvestorAssignments(ctx, c.Param("investorId"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"investor_id": c.Param("investorId"),
		"assignments": assignments,
	})
}

// Delete removes a single investor-fund link
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "assignments_handler.Delete")
	defer span.End()

	ctx, api, err := ectoinject.GetContext[crm.API](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := api.DeleteAssignment(ctx, c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
