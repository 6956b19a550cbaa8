// Package orders holds the business rules applied to production orders before they are written.
package orders

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/utilx/textx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/timex"
	"github.com/goccy/go-json"
)

// Column names of tableau_production_2, upper case.
const (
	ColN               = "N"
	ColStatut          = "STATUT"
	ColNClient         = "N_CLIENT"
	ColNomClient       = "NOM_CLIENT"
	ColNomCommercial   = "NOM_COMMERCIAL"
	ColMarketing       = "MARKETING"
	ColMontantHT       = "MONTANT_HT"
	ColRalBDC          = "RAL_BDC"
	ColRalModule       = "RAL_MODULE"
	ColPlanLien        = "PLAN_INSTALLATION_LIEN"
	ColPlan            = "PLAN_INSTALLATION"
	ColDatePlanning    = "DATE_PLANNING"
	ColLivraisonPrevue = "LIVRAISON_PREVUE"
	ColDateProduction  = "DATE_PRODUCTION"
	ColDateStock       = "DATE_STOCK"
	ColDateLivraison   = "DATE_LIVRAISON"
)

// Statuses after NormStatut.
const (
	StatutEnProduction = "EN PRODUCTION"
	StatutEnStock      = "EN STOCK"
	StatutLivree       = "LIVREE"
	StatutLivre        = "LIVRE"
)

// InProgressStatuts, StockStatuts and DeliveredStatuts group STATUT values for dashboards and filters.
var (
	InProgressStatuts = []string{"EN ATTENTE", "EN ATTENTE - PRODUCTION", "EN ATTENTE DE PRODUCTION", "EN PRODUCTION"}
	StockStatuts      = []string{"EN STOCK"}
	DeliveredStatuts  = []string{"LIVREE", "LIVRÉE", "LIVRE"}
)

// ModuleColumns are the per-model module counts summed by the evolution chart.
var ModuleColumns = []string{
	"MOD10S", "MOD14S", "MOD14SDV", "MOD15S", "MOD21S", "MOD21SDV", "MOD21SPT", "MOD24S", "MOD28S",
	"MOD10R", "MOD14R", "MOD14RDV", "MOD15R", "MOD21R", "MOD21RDV", "MOD21RPT", "MOD24R", "MOD28R",
	"MOD21C", "MOD21CDV",
}

// stamped date columns always present on insert, they are NOT NULL in the table
var stampColumns = []string{ColDateProduction, ColDateStock, ColDateLivraison}

const whiteRAL = "RAL 9003 BLANC"

// Record is one order row keyed by upper-case column name.
type Record map[string]any

// Text is the text form of a JSON or database value, "" for nil.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case []byte:
		return string(t)
	case time.Time:
		return timex.FormatDate(t)
	default:
		return fmt.Sprint(t)
	}
}

// Get returns the text value of col.
func (r Record) Get(col string) string {
	return Text(r[col])
}

// Has reports whether col is present with a non blank value.
func (r Record) Has(col string) bool {
	return strings.TrimSpace(r.Get(col)) != ""
}

// Columns returns the column names in a stable order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}

	sort.Strings(cols)

	return cols
}

// Filter keeps the keys of data that are known columns, except N, as text values.
// Empty strings are kept: they clear a column on update.
func Filter(data map[string]any, known func(col string) bool) Record {
	rec := make(Record, len(data))

	for k, v := range data {
		if k == ColN || !known(k) {
			continue
		}

		if v == nil {
			rec[k] = nil
			continue
		}

		rec[k] = Text(v)
	}

	return rec
}

// DeliveryDate is the expected delivery: 10 weeks for an all white order, 12 otherwise,
// pushed 3 weeks when it lands in the first three weeks of August.
func DeliveryDate(today time.Time, ralBDC, ralModule string) time.Time {
	weeks := 12
	if norm(ralBDC) == whiteRAL && norm(ralModule) == whiteRAL {
		weeks = 10
	}

	d := timex.AddWeeks(today, weeks)
	if d.Month() == time.August && d.Day() <= 21 {
		d = timex.AddWeeks(d, 3)
	}

	return d
}

func norm(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

var (
	amountStrip   = regexp.MustCompile("[ €\u00a0\u202f]")
	amountExact   = regexp.MustCompile(`^-?\d+(?:\.\d{1,2})?$`)
	amountLeading = regexp.MustCompile(`^-?\d*(?:\.\d{0,2})?`)
)

// NormalizeAmount turns a typed amount ("1 250,50 €") into its database form ("1250.50").
// A comma is the decimal separator when there is no dot, a thousands separator otherwise.
// ok is false when nothing numeric remains.
func NormalizeAmount(v any) (amount string, ok bool) {
	s := strings.TrimSpace(Text(v))
	if s == "" {
		return "", false
	}

	s = amountStrip.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "")

	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	if amountExact.MatchString(s) {
		return s, true
	}

	m := amountLeading.FindString(s)
	if m == "" || m == "-" || m == "." || m == "-." {
		return "", false
	}

	return m, true
}

func normalizeDates(rec Record, cols ...string) {
	for _, c := range cols {
		if rec.Has(c) {
			rec[c] = timex.ToDDMMYYYY(rec.Get(c))
		}
	}
}

func normalizeAmount(rec Record) {
	if _, ok := rec[ColMontantHT]; !ok || !rec.Has(ColMontantHT) {
		return
	}

	if amount, ok := NormalizeAmount(rec[ColMontantHT]); ok {
		rec[ColMontantHT] = amount
	} else {
		rec[ColMontantHT] = nil
	}
}

// stamp records today in the date column matching statut; a provided delivery date is kept.
func stamp(rec Record, statut, today string) {
	switch statut {
	case StatutEnProduction:
		rec[ColDateProduction] = today
	case StatutEnStock:
		rec[ColDateStock] = today
	case StatutLivree, StatutLivre:
		if !rec.Has(ColDateLivraison) {
			rec[ColDateLivraison] = today
		}
	}
}

// ErrIdentityMissing is returned by PrepareCreate when N_CLIENT or NOM_CLIENT is empty.
var ErrIdentityMissing = fmt.Errorf("N_CLIENT et NOM_CLIENT sont requis")

// PrepareCreate validates rec and fills in the computed columns of a new order.
func PrepareCreate(rec Record, now time.Time) error {
	normalizeDates(rec, ColDatePlanning, ColLivraisonPrevue, ColDateLivraison)

	if !rec.Has(ColNClient) || !rec.Has(ColNomClient) {
		return ErrIdentityMissing
	}

	rec[ColNomClient] = strings.TrimSpace(rec.Get(ColNomClient))

	today := timex.Today(now)
	todayTxt := timex.FormatDate(today)

	rec[ColDatePlanning] = todayTxt
	rec[ColLivraisonPrevue] = timex.FormatDate(DeliveryDate(today, rec.Get(ColRalBDC), rec.Get(ColRalModule)))

	statut := textx.NormStatut(rec.Get(ColStatut))

	if rec.Has(ColDateLivraison) {
		rec[ColStatut] = StatutLivree
		statut = StatutLivree
	}

	stamp(rec, statut, todayTxt)
	normalizeAmount(rec)

	for _, c := range stampColumns {
		if rec[c] == nil {
			rec[c] = ""
		}
	}

	return nil
}

// PrepareUpdate applies the status rules of an update given the row before it.
// A provided delivery date forces the delivered status.
func PrepareUpdate(rec, before Record, now time.Time) {
	if _, ok := rec[ColDateLivraison]; ok {
		dl := timex.ToDDMMYYYY(rec.Get(ColDateLivraison))
		rec[ColDateLivraison] = dl

		if dl != "" {
			rec[ColStatut] = StatutLivree
		}
	}

	statut := rec.Get(ColStatut)
	if statut == "" {
		statut = before.Get(ColStatut)
	}

	stamp(rec, textx.NormStatut(statut), timex.FormatDate(timex.Today(now)))
	normalizeAmount(rec)
}

// Change is one column whose value differs after an update.
type Change struct {
	Column string
	Old    string
	New    string
}

// Diff lists the columns of rec whose text differs from before, in column order.
func Diff(rec, before Record) []Change {
	var changes []Change

	for _, col := range rec.Columns() {
		oldVal, newVal := before.Get(col), rec.Get(col)
		if oldVal != newVal {
			changes = append(changes, Change{Column: col, Old: oldVal, New: newVal})
		}
	}

	return changes
}

// StatusFilter maps the status query parameter to a group of STATUT values.
// exact is true when status is not an alias and must be matched verbatim.
func StatusFilter(status string) (statuts []string, exact bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
		return nil, false
	case "en_cours", "en cours", "progress":
		return InProgressStatuts, false
	case "stock", "en_stock", "en stock":
		return StockStatuts, false
	case "livre", "livrée", "livree", "delivered":
		return DeliveredStatuts, false
	}

	return []string{strings.TrimSpace(status)}, true
}
