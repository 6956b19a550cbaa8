package api

import (
	"net/http"
	"strings"

	"github.com/gdp-tracker/gdp-backend/internal/repository"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/reqconn"
	"github.com/gofiber/fiber/v2"
)

func (h *Handler) getIdentifiant(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	rows, err := h.repo.Identifiants(c.UserContext(), scope.Queryer(), c.Query("id"), page(c).Limit)
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"rows": rows})
}

func (h *Handler) listClients(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	rows, err := h.repo.ListClients(c.UserContext(), scope.Queryer(), repository.ClientFilter{Q: c.Query("q"), Page: page(c)})
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"rows": rows})
}

func (h *Handler) checkClient(c *fiber.Ctx) error {
	nom := strings.TrimSpace(c.Query("nom"))
	if nom == "" {
		return writeError(c, http.StatusBadRequest, "Nom client manquant")
	}

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	exists, err := h.repo.ClientExists(c.UserContext(), scope.Queryer(), nom)
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"exists": exists})
}

func (h *Handler) getDonnees(c *fiber.Ctx) error {
	nom := strings.TrimSpace(c.Query("nom_colonne"))
	if nom == "" {
		return writeError(c, http.StatusBadRequest, "nom_colonne manquant")
	}

	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	values, err := h.repo.DonneesValues(c.UserContext(), scope.Queryer(), nom)
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"values": values})
}

func (h *Handler) getDonneesAll(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	values, err := h.repo.DonneesAll(c.UserContext(), scope.Queryer())
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"values": values})
}

func (h *Handler) getDonneesCols(c *fiber.Ctx) error {
	scope, err := reqconn.From(c)
	if err != nil {
		return err
	}

	cols, err := h.repo.DonneesCols(c.UserContext(), scope.Queryer())
	if err != nil {
		return err
	}

	return writeOK(c, http.StatusOK, fiber.Map{"cols": cols})
}

// getMaintenance always carries STATUT so the client can decide even on failure.
func (h *Handler) getMaintenance(c *fiber.Ctx) error {
	status, err := h.maintenanceStatus(c)
	if err != nil {
		return c.Status(StatusOf(err)).JSON(fiber.Map{"ok": false, "error": err.Error(), "STATUT": 0})
	}

	return writeOK(c, http.StatusOK, fiber.Map{"STATUT": status})
}

func (h *Handler) maintenanceStatus(c *fiber.Ctx) (int64, error) {
	scope, err := reqconn.From(c)
	if err != nil {
		return 0, err
	}

	return h.repo.MaintenanceStatus(c.UserContext(), scope.Queryer())
}
