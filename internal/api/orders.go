package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gdp-tracker/gdp-backend/internal/audit"
	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/internal/repository"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/reqconn"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/jsonx"
	"github.com/gdp-tracker/gdp-backend/pkg/validator"
	"github.com/gofiber/fiber/v2"
)

const (
	errOrderNotFound  = "Commande introuvable"
	errNoValidColumns = "Aucune colonne valide transmise"

	HeaderClientPC   = "X-Client-PC"
	HeaderClientHost = "X-Client-Host"
)

type listOrdersQuery struct {
	Status    string `query:"status"`
	Marketing string `query:"marketing"`
	Q         string `query:"q"`
	N         string `query:"n" validate:"omitempty,number"`
}

func (h *Handler) listOrders(c *fiber.Ctx) error {
	var params listOrdersQuery
	if err := c.QueryParser(&params); err != nil {
		return writeError(c, http.StatusBadRequest, err.Error())
	}

	if failures := h.validate.ValidateStruct(params); len(failures) > 0 {
		return writeError(c, http.StatusBadRequest, validator.NewValidationError(failures).Error())
	}

	filter := repository.OrderFilter{
		Status:    params.Status,
		Marketing: params.Marketing,
		Q:         params.Q,
		Page:      page(c),
	}

	if params.N != "" {
		n, err := strconv.ParseInt(params.N, 10, 64)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "n invalide")
		}

		filter.N = &n
	}

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	rows, err := h.repo.ListOrders(c.UserContext(), scope.Queryer(), filter)
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"rows": rows})
}

func (h *Handler) getOrder(c *fiber.Ctx) error {
	n, ok := orderNumber(c)
	if !ok {
		return writeError(c, http.StatusNotFound, errOrderNotFound)
	}

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	row, err := h.repo.GetOrder(c.UserContext(), scope.Queryer(), n)
	if err != nil {
		return err
	}

	if row == nil {
		return writeError(c, http.StatusNotFound, errOrderNotFound)
	}

	return writeOK(c, http.StatusOK, fiber.Map{"row": row})
}

func (h *Handler) getOrderStats(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	ctx, q := c.UserContext(), scope.Queryer()

	stats, err := h.repo.StatusCounts(ctx, q)
	if err != nil {
		return err
	}

	planned, err := h.repo.PlannedOrders(ctx, q, orders.ColMontantHT)
	if err != nil {
		return err
	}

	stats.CAMois = orders.MonthlyRevenue(planned, h.now())

	return writeOK(c, http.StatusOK, fiber.Map{"stats": stats})
}

func (h *Handler) getModulesEvolution(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	planned, err := h.repo.PlannedOrders(c.UserContext(), scope.Queryer(), orders.ModuleColumns...)
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"items": orders.ModulesEvolution(planned, h.now())})
}

func (h *Handler) createOrder(c *fiber.Ctx) error {
	data := body(c)

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	ctx, q := c.UserContext(), scope.Queryer()

	cols, err := h.repo.OrderColumns(ctx, q, keys(data)...)
	if err != nil {
		return err
	}

	rec := orders.Filter(data, cols.Known)

	if err = orders.PrepareCreate(rec, h.now()); err != nil {
		if errors.Is(err, orders.ErrIdentityMissing) {
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		return err
	}

	nom := rec.Get(orders.ColNomClient)

	count, err := h.repo.CountClientName(ctx, q, nom)
	if err != nil {
		return err
	}

	if count.Total() > 0 {
		return writeError(c, http.StatusConflict, fmt.Sprintf("NOM_CLIENT « %s » existe déjà", nom))
	}

	n, err := h.repo.InsertOrder(ctx, q, cols, rec)
	if err != nil {
		return err
	}

	if err = scope.Commit(ctx); err != nil {
		return err
	}

	// the lookup below takes its own connection
	reqconn.Release(c)

	var mail any = fiber.Map{}
	if h.notifier != nil {
		mail = h.notifier.NewOrder(ctx, n, rec, h.commercialLookup)
	}

	return writeOK(c, http.StatusCreated, fiber.Map{"N": n, "mail": mail})
}

// commercialLookup runs in its own scope, after the request scope was committed and released.
func (h *Handler) commercialLookup(ctx context.Context, nom string) (mail string, err error) {
	err = pgxdb.RunInScope(ctx, h.acq, func(ctx context.Context, s *pgxdb.Scope) error {
		mail, err = h.repo.CommercialEmail(ctx, s.Queryer(), nom)
		return err
	})

	return mail, err
}

func (h *Handler) updateOrder(c *fiber.Ctx) error {
	n, ok := orderNumber(c)
	if !ok {
		return writeError(c, http.StatusNotFound, errOrderNotFound)
	}

	data := body(c)

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	ctx, q := c.UserContext(), scope.Queryer()

	cols, err := h.repo.OrderColumns(ctx, q, keys(data)...)
	if err != nil {
		return err
	}

	rec := orders.Filter(data, cols.Known)
	if len(rec) == 0 {
		return writeError(c, http.StatusBadRequest, errNoValidColumns)
	}

	// the previous values of the written columns, plus the client name for the audit line
	names := rec.Columns()
	if _, ok := rec[orders.ColNomClient]; !ok && cols.Known(orders.ColNomClient) {
		names = append(names, orders.ColNomClient)
	}

	before, err := h.repo.OrderSnapshot(ctx, q, cols, n, names)
	if err != nil {
		return err
	}

	if before == nil {
		return writeError(c, http.StatusNotFound, errOrderNotFound)
	}

	orders.PrepareUpdate(rec, before, h.now())

	if _, err = h.repo.UpdateOrder(ctx, q, cols, n, rec); err != nil {
		return err
	}

	if err = scope.Commit(ctx); err != nil {
		return err
	}

	nom := rec.Get(orders.ColNomClient)
	if nom == "" {
		nom = before.Get(orders.ColNomClient)
	}

	res := audit.Result{Reason: audit.ReasonNoChanges}
	if h.audit != nil {
		res = h.audit.Write(ctx, audit.Entry{N: n, NomClient: nom, PC: clientPC(c), Changes: orders.Diff(rec, before)})
	}

	return writeOK(c, http.StatusOK, fiber.Map{"audit": res})
}

func orderNumber(c *fiber.Ctx) (int64, bool) {
	n, err := strconv.ParseInt(c.Params("n"), 10, 64)
	return n, err == nil
}

// body parses the JSON object of the request; anything else reads as an empty object.
func body(c *fiber.Ctx) map[string]any {
	data, err := jsonx.ParseJSON(c.Body())
	if err != nil {
		return map[string]any{}
	}

	return data
}

func keys(data map[string]any) []string {
	out := make([]string, 0, len(data))
	for k := range data {
		out = append(out, k)
	}

	return out
}

func page(c *fiber.Ctx) repository.Page {
	return repository.Page{
		Limit:  c.QueryInt("limit", repository.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	}.Clamp()
}

// clientPC names the workstation of an update for the audit log.
func clientPC(c *fiber.Ctx) string {
	for _, v := range []string{c.Get(HeaderClientPC), c.Get(HeaderClientHost), c.IP()} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return "unknown"
}
