package api

import (
	"errors"
	"net/http"

	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders the errors returned by handlers: 503 when the database cannot be reached
// through the tunnel, the fiber status for routing errors, 500 with the driver message otherwise.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := StatusOf(err)

	if status >= http.StatusInternalServerError {
		logx.GetLogger().LogError(c.UserContext(), c.Method()+" "+c.Path()+" failed", err)
	}

	return writeError(c, status, err.Error())
}

// StatusOf maps err to the HTTP status of its response.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	switch errorx.KindOf(err) {
	case errorx.KindTunnelDown, errorx.KindPoolConnect, errorx.KindDnsResolution,
		errorx.KindTunnelStart, errorx.KindLocalPortUnreachable:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
