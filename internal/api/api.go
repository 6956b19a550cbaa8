// Package api exposes the production tracking routes consumed by the desktop client.
//
// Every response is JSON: {"ok": true, ...} on success, {"ok": false, "error": "..."} otherwise.
// Database work of a request runs in one scope bound by the reqconn middleware; the scope is
// committed by the write handlers and rolled back for everything else.
package api

import (
	"context"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/audit"
	"github.com/gdp-tracker/gdp-backend/internal/notify"
	"github.com/gdp-tracker/gdp-backend/internal/repository"
	"github.com/gdp-tracker/gdp-backend/pkg/bridge"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/reqconn"
	"github.com/gdp-tracker/gdp-backend/pkg/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// HealthChecker reports the bridge state; *bridge.Supervisor implements it.
type HealthChecker interface {
	Health(ctx context.Context) bridge.Health
}

// AuditLog records the changes of an update; *audit.Writer implements it.
type AuditLog interface {
	Write(ctx context.Context, e audit.Entry) audit.Result
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Acquirer pgxdb.Acquirer
	Health   HealthChecker
	Repo     *repository.Repository
	Notifier *notify.Notifier
	Audit    AuditLog
	Token    string
	Now      func() time.Time
}

type Handler struct {
	acq      pgxdb.Acquirer
	health   HealthChecker
	repo     *repository.Repository
	notifier *notify.Notifier
	audit    AuditLog
	token    string
	now      func() time.Time
	validate *validator.Validator
}

func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}

	if d.Repo == nil {
		d.Repo = repository.New(nil)
	}

	return &Handler{
		acq:      d.Acquirer,
		health:   d.Health,
		repo:     d.Repo,
		notifier: d.Notifier,
		audit:    d.Audit,
		token:    d.Token,
		now:      d.Now,
		validate: validator.NewFieldTagValidator("query"),
	}
}

// Register installs the middleware chain and the routes on app.
func (h *Handler) Register(app *fiber.App) {
	app.Use(recover.New(), requestID(), tokenAuth(h.token), reqconn.New(h.acq))

	app.Get("/health", h.getHealth)
	app.Get("/token", h.getToken)
	app.Get("/gdp/maintenance", h.getMaintenance)

	app.Get("/get-identifiant", h.getIdentifiant)

	app.Get("/orders/stats", h.getOrderStats)
	app.Get("/orders/modules-evolution", h.getModulesEvolution)
	app.Get("/orders", h.listOrders)
	app.Get("/orders/:n", h.getOrder)
	app.Post("/orders", h.createOrder)
	app.Put("/orders/:n", h.updateOrder)

	app.Get("/clients", h.listClients)
	app.Get("/clients/check", h.checkClient)

	app.Get("/donnees", h.getDonnees)
	app.Get("/donnees/all", h.getDonneesAll)
	app.Get("/donnees/cols", h.getDonneesCols)
}

func (h *Handler) getHealth(c *fiber.Ctx) error {
	return c.JSON(h.health.Health(c.UserContext()))
}

func (h *Handler) getToken(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"token": h.token})
}

func writeOK(c *fiber.Ctx, status int, body fiber.Map) error {
	body["ok"] = true
	return c.Status(status).JSON(body)
}

func writeError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"ok": false, "error": msg})
}
