// Package duplicates exposes the server-detected duplicate groups read-only.
// Detection runs in the CRM backend; clover only surfaces the clusters a
// session can be opened over.
package duplicates

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/crm"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Register registers duplicate group routes
func Register(g *echo.Group) {
	g.GET("", List)
}

// List returns the duplicate investor groups reported by the backend
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "duplicates_handler.List")
	defer span.End()

	ctx, api, err := ectoinject.GetContext[crm.API](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	report, err := api.GetDuplicateGroups(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, report)
}
