// Package executions exposes the merge execution audit trail.
package executions

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/mergeexecution"
	ctxmiddleware "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers merge execution routes
func Register(g *echo.Group) {
	g.GET("", ListByInvestor)
	g.GET("/:id", Get)
}

// Get returns one merge execution by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "executions_handler.Get")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*mergeexecution.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	execution, err := repo.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, execution)
}

// ListByInvestor returns the execution history for a kept investor id
func ListByInvestor(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "executions_handler.ListByInvestor")
	defer span.End()

	tenantID := ctxmiddleware.GetTenantID(ctx)
	if tenantID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "tenant_id is required")
	}

	keepID := c.QueryParam("keep_id")
	if keepID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "keep_id query parameter is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, repo, err := ectoinject.GetContext[*mergeexecution.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	executions, err := repo.ListByInvestor(ctx, tenantID, keepID, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"executions": executions})
}
