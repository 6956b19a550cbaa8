package pgxdb

import (
	"context"
	"fmt"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/pkg/errors"
)

// DefaultLocales is the lc_time fallback chain applied to every borrowed connection.
var DefaultLocales = []string{"fr_FR", "fr_FR.UTF-8", "C"}

const setLocaleQuery = "SELECT set_config('lc_time', $1, false)"

// SetLocale sets the session lc_time to the first locale of chain the server accepts.
// It must run outside a transaction, a rejected value would abort it.
func SetLocale(ctx context.Context, conn dbx.Queryer, chain []string) (string, error) {
	var lastErr error

	for _, locale := range chain {
		if _, err := conn.Exec(ctx, setLocaleQuery, locale); err != nil {
			lastErr = err
			logx.GetLogger().LogDebug(ctx, fmt.Sprintf("lc_time %q rejected: %v", locale, err))

			continue
		}

		return locale, nil
	}

	if lastErr == nil {
		lastErr = errors.New("empty locale chain")
	}

	return "", errors.Wrap(lastErr, "set session locale")
}
