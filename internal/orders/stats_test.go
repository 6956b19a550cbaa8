package orders_test

import (
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyRevenue(t *testing.T) {
	rows := []orders.Record{
		{"DATE_PLANNING": "03/03/2025", "MONTANT_HT": "1 000,50 €"},
		{"DATE_PLANNING": "2025-03-20", "MONTANT_HT": "250"},
		{"DATE_PLANNING": "28-03-2025", "MONTANT_HT": "n/c"},
		{"DATE_PLANNING": "28/02/2025", "MONTANT_HT": "9999"},
		{"DATE_PLANNING": "", "MONTANT_HT": "9999"},
		{"DATE_PLANNING": "bientôt", "MONTANT_HT": "9999"},
	}

	assert.InDelta(t, 1250.50, orders.MonthlyRevenue(rows, day(2025, 3, 31)), 0.001)
	assert.Zero(t, orders.MonthlyRevenue(nil, day(2025, 3, 31)))
}

func TestModuleCount(t *testing.T) {
	rec := orders.Record{"MOD14S": "3", "MOD21C": "2", "MOD10R": "", "MOD28S": "x", "MOD24R": nil, "REMARQUES": "5"}
	assert.Equal(t, 5, orders.ModuleCount(rec))
}

func TestModulesEvolution(t *testing.T) {
	rows := []orders.Record{
		{"DATE_PLANNING": "10/01/2025", "MOD14S": "3"},
		{"DATE_PLANNING": "2025-01-15", "MOD21S": "4"},
		{"DATE_PLANNING": "01/03/2025", "MOD10S": "1", "MOD10R": "1"},
		{"DATE_PLANNING": "01/03/2024", "MOD10S": "50"},
		{"DATE_PLANNING": "", "MOD10S": "50"},
	}

	items := orders.ModulesEvolution(rows, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	require.Len(t, items, 6)

	assert.Equal(t, orders.MonthModules{Month: "2024-10", Label: "Oct", Modules: 0}, items[0])
	assert.Equal(t, orders.MonthModules{Month: "2025-01", Label: "Jan", Modules: 7}, items[3])
	assert.Equal(t, orders.MonthModules{Month: "2025-02", Label: "Fév", Modules: 0}, items[4])
	assert.Equal(t, orders.MonthModules{Month: "2025-03", Label: "Mar", Modules: 2}, items[5])
}
