package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx"
	"github.com/gofiber/fiber/v2"
)

const (
	HeaderToken     = "X-App-Token"
	HeaderRequestID = "X-Request-ID"

	errInvalidToken = "Invalid or missing token"
)

// publicPaths are served without the application token.
var publicPaths = map[string]struct{}{
	"/health":          {},
	"/token":           {},
	"/gdp/maintenance": {},
}

// tokenAuth rejects requests whose X-App-Token differs from the process token.
func tokenAuth(token string) fiber.Handler {
	expected := []byte(token)

	return func(c *fiber.Ctx) error {
		if _, ok := publicPaths[c.Path()]; ok {
			return c.Next()
		}

		got := []byte(c.Get(HeaderToken))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			return writeError(c, http.StatusUnauthorized, errInvalidToken)
		}

		return c.Next()
	}
}

// requestID attaches a correlation id to the request context and the response, and logs the request.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(HeaderRequestID)
		if id == "" {
			id = utilx.GenerateUUID().String()
		}

		ctx := logx.ContextWithRequestID(c.UserContext(), id)
		c.SetUserContext(ctx)
		c.Set(HeaderRequestID, id)

		start := time.Now()
		err := c.Next()

		logx.GetLogger().LogDebug(ctx, fmt.Sprintf("%s %s -> %d (%s)",
			c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start).Round(time.Millisecond)))

		return err
	}
}
