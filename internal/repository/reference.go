package repository

import (
	"context"
	"strings"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/textx"
)

// ClientFilter selects clients; Q matches any of the listed columns.
type ClientFilter struct {
	Q    string
	Page Page
}

// ListClients returns the clients ordered by name and serial number.
func (r *Repository) ListClients(ctx context.Context, q dbx.Queryer, f ClientFilter) ([]Row, error) {
	query := `SELECT NOM_CLIENT, NUMERO_DE_SERIE, VERSION, MDP, TYPE_DE_CONNEXION FROM ` + TableClients
	params := dbx.Named{}

	if s := strings.TrimSpace(f.Q); s != "" {
		query += ` WHERE (NOM_CLIENT ILIKE :q OR NUMERO_DE_SERIE ILIKE :q OR VERSION ILIKE :q
			OR TYPE_DE_CONNEXION ILIKE :q OR MDP ILIKE :q)`
		params["q"] = "%" + s + "%"
	}

	page := f.Page.Clamp()
	params["limit"], params["offset"] = page.Limit, page.Offset

	query += " ORDER BY NOM_CLIENT ASC, NUMERO_DE_SERIE ASC LIMIT :limit OFFSET :offset"

	rows, err := queryRows(ctx, q, query, params)

	return rows, wrap(err, "list clients")
}

// ClientExists reports whether a client has exactly this name, ignoring case and surrounding blanks.
func (r *Repository) ClientExists(ctx context.Context, q dbx.Queryer, nom string) (bool, error) {
	n, err := queryCount(ctx, q,
		"SELECT COUNT(*) FROM "+TableClients+" WHERE UPPER(TRIM(NOM_CLIENT)) = :nom",
		dbx.Named{"nom": strings.ToUpper(strings.TrimSpace(nom))})

	return n > 0, wrap(err, "check client")
}

// DonneesValues returns the distinct non empty values of one lookup list, in insertion order.
func (r *Repository) DonneesValues(ctx context.Context, q dbx.Queryer, nomColonne string) ([]string, error) {
	values, err := queryStrings(ctx, q, `
		SELECT VALEUR FROM `+TableDonnees+`
		WHERE NOM_COLONNE = :nom AND COALESCE(VALEUR, '') <> ''
		ORDER BY N`, dbx.Named{"nom": nomColonne})
	if err != nil {
		return nil, wrap(err, "lookup values")
	}

	return utilx.Dedup(values), nil
}

// DonneesAll returns every lookup list keyed by trimmed column name, values trimmed and deduplicated.
func (r *Repository) DonneesAll(ctx context.Context, q dbx.Queryer) (map[string][]string, error) {
	res, err := dbx.Execute(ctx, q, `
		SELECT NOM_COLONNE, VALEUR FROM `+TableDonnees+`
		WHERE COALESCE(VALEUR, '') <> ''
		ORDER BY NOM_COLONNE, N`, nil)
	if err != nil {
		return nil, wrap(err, "lookup lists")
	}

	rows, err := res.All()
	if err != nil {
		return nil, wrap(err, "lookup lists")
	}

	lists := map[string][]string{}

	for _, row := range rows {
		key := strings.TrimSpace(textOf(row, 0))
		if key == "" {
			continue
		}

		if _, ok := lists[key]; !ok {
			lists[key] = []string{}
		}

		if v := strings.TrimSpace(textOf(row, 1)); v != "" {
			lists[key] = append(lists[key], v)
		}
	}

	for k, values := range lists {
		lists[k] = utilx.Dedup(values)
	}

	return lists, nil
}

// DonneesCols returns the names of the lookup lists.
func (r *Repository) DonneesCols(ctx context.Context, q dbx.Queryer) ([]string, error) {
	cols, err := queryStrings(ctx, q, `
		SELECT DISTINCT NOM_COLONNE FROM `+TableDonnees+`
		WHERE COALESCE(NOM_COLONNE, '') <> ''
		ORDER BY NOM_COLONNE`, nil)

	return cols, wrap(err, "lookup list names")
}

// CommercialEmail finds the address of a salesperson listed under NOM_COMMERCIAL, "" when none matches.
// Names are compared ignoring accents, case and surrounding blanks.
func (r *Repository) CommercialEmail(ctx context.Context, q dbx.Queryer, nomCommercial string) (string, error) {
	target := textx.Norm(nomCommercial)
	if target == "" {
		return "", nil
	}

	res, err := dbx.Execute(ctx, q, `
		SELECT VALEUR, COALESCE(MAIL, EMAIL) AS MAIL
		FROM `+TableDonnees+`
		WHERE UPPER(TRIM(NOM_COLONNE)) = 'NOM_COMMERCIAL'
		  AND (MAIL IS NOT NULL OR EMAIL IS NOT NULL)
		ORDER BY N`, nil)
	if err != nil {
		return "", wrap(err, "commercial email")
	}

	rows, err := res.All()
	if err != nil {
		return "", wrap(err, "commercial email")
	}

	for _, row := range rows {
		mail := strings.TrimSpace(textOf(row, 1))
		if mail != "" && textx.Norm(textOf(row, 0)) == target {
			return mail, nil
		}
	}

	return "", nil
}

// Identifiant is one application user.
type Identifiant struct {
	ID      *string `db:"id" json:"ID"`
	Nom     *string `db:"nom" json:"NOM"`
	Role    *string `db:"role" json:"ROLE"`
	Poste   *string `db:"poste" json:"POSTE"`
	Service *string `db:"service" json:"SERVICE"`
	Mail    *string `db:"mail" json:"MAIL"`
}

// Identifiants returns the user identified by id, or the first limit users when id is empty.
func (r *Repository) Identifiants(ctx context.Context, q dbx.Queryer, id string, limit int) ([]Identifiant, error) {
	const cols = "SELECT ID, NOM, ROLE, POSTE, SERVICE, MAIL FROM " + TableIdentifiant

	var (
		rows []Identifiant
		err  error
	)

	if id = strings.TrimSpace(id); id != "" {
		rows, err = pgxdb.QueryAndMap[Identifiant](ctx, q, cols+" WHERE ID = :id", dbx.Named{"id": id})
	} else {
		rows, err = pgxdb.QueryAndMap[Identifiant](ctx, q, cols+" ORDER BY ID LIMIT :limit",
			dbx.Named{"limit": Page{Limit: limit}.Clamp().Limit})
	}

	return rows, wrap(err, "identifiants")
}

// MaintenanceStatus reads the GDP_MAINTENANCE flag, 0 when it is absent.
func (r *Repository) MaintenanceStatus(ctx context.Context, q dbx.Queryer) (int64, error) {
	res, err := dbx.Execute(ctx, q, "SELECT STATUT FROM GDP WHERE ID = 'GDP_MAINTENANCE' LIMIT 1", nil)
	if err != nil {
		return 0, wrap(err, "maintenance status")
	}

	v, err := res.Scalar()

	return toInt64(v), wrap(err, "maintenance status")
}

func textOf(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}

	if s, ok := row[i].(string); ok {
		return s
	}

	return ""
}
