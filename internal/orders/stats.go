package orders

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/utilx/timex"
)

// Stats feeds the dashboard counters.
type Stats struct {
	EnCours int64   `json:"commandes_en_cours"`
	EnStock int64   `json:"commandes_en_stock"`
	Livrees int64   `json:"commandes_livrees"`
	CAMois  float64 `json:"ca_mois"`
}

// MonthModules is one point of the module evolution chart.
type MonthModules struct {
	Month   string `json:"month"`
	Label   string `json:"label"`
	Modules int    `json:"modules"`
}

// EvolutionMonths is the width of the evolution chart, current month included.
const EvolutionMonths = 6

func planningMonth(rec Record) (time.Time, bool) {
	t, err := timex.ParseDate(rec.Get(ColDatePlanning))
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// MonthlyRevenue sums MONTANT_HT over the rows planned in the month of now.
// Rows with an unreadable date or amount count for nothing.
func MonthlyRevenue(rows []Record, now time.Time) float64 {
	current := monthKey(now)

	var total float64

	for _, rec := range rows {
		month, ok := planningMonth(rec)
		if !ok || monthKey(month) != current {
			continue
		}

		amount, ok := NormalizeAmount(rec[ColMontantHT])
		if !ok {
			continue
		}

		if v, err := strconv.ParseFloat(amount, 64); err == nil {
			total += v
		}
	}

	return math.Round(total*100) / 100
}

// ModuleCount sums the module columns of rec; blank or non numeric cells count as 0.
func ModuleCount(rec Record) int {
	total := 0

	for _, col := range ModuleColumns {
		s := strings.TrimSpace(rec.Get(col))
		if s == "" {
			continue
		}

		if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
			total += int(v)
		}
	}

	return total
}

// ModulesEvolution sums the modules planned in each of the last EvolutionMonths months, oldest first.
// Months without orders are reported with 0.
func ModulesEvolution(rows []Record, now time.Time) []MonthModules {
	byMonth := map[string]int{}

	for _, rec := range rows {
		if month, ok := planningMonth(rec); ok {
			byMonth[monthKey(month)] += ModuleCount(rec)
		}
	}

	months := timex.LastMonths(now, EvolutionMonths)
	items := make([]MonthModules, len(months))

	for i, m := range months {
		items[i] = MonthModules{
			Month:   monthKey(m),
			Label:   timex.MonthLabel(m.Month()),
			Modules: byMonth[monthKey(m)],
		}
	}

	return items
}
