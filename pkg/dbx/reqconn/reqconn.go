// Package reqconn binds one database scope to the lifetime of a fiber request.
package reqconn

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

const localsKey = "reqconn.holder"

type holder struct {
	acq pgxdb.Acquirer

	mu    sync.Mutex
	scope *pgxdb.Scope
}

// New returns the middleware. The scope is acquired on the first From call of a request and
// closed once when the request ends, whether the handler returned, failed or panicked.
// Uncommitted work is rolled back at that point.
func New(acq pgxdb.Acquirer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := &holder{acq: acq}
		c.Locals(localsKey, h)

		defer h.teardown(context.WithoutCancel(c.UserContext()))

		return c.Next()
	}
}

// From returns the scope of the current request, acquiring it on first use.
func From(c *fiber.Ctx) (*pgxdb.Scope, error) {
	h, ok := c.Locals(localsKey).(*holder)
	if !ok {
		return nil, errors.New("reqconn middleware not installed")
	}

	return h.get(c.UserContext())
}

// Release closes the scope of the current request now, returning its connection to the pool.
// Uncommitted work is rolled back. A later From in the same request acquires a new scope.
func Release(c *fiber.Ctx) {
	if h, ok := c.Locals(localsKey).(*holder); ok {
		h.teardown(context.WithoutCancel(c.UserContext()))
	}
}

func (h *holder) get(ctx context.Context) (*pgxdb.Scope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scope != nil {
		return h.scope, nil
	}

	scope, err := pgxdb.Begin(ctx, h.acq)
	if err != nil {
		return nil, err
	}

	h.scope = scope

	return scope, nil
}

func (h *holder) teardown(ctx context.Context) {
	h.mu.Lock()
	scope := h.scope
	h.scope = nil
	h.mu.Unlock()

	if scope == nil {
		return
	}

	if err := scope.Close(ctx); err != nil {
		logx.GetLogger().LogWarning(ctx, fmt.Sprintf("request scope %d teardown", scope.ID()), err)
	}
}
