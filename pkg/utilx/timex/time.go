package timex

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DisplayLayout is the DD/MM/YYYY text form dates are stored in.
const DisplayLayout = "02/01/2006"

// DateLayouts are the accepted input forms, tried in order.
var DateLayouts = []string{"2/1/2006", "2006-1-2", "2-1-2006", "2006/1/2"}

var frenchMonths = [...]string{"Jan", "Fév", "Mar", "Avr", "Mai", "Juin", "Juil", "Août", "Sept", "Oct", "Nov", "Déc"}

// ParseTimeWithMultipleLayouts parses the time string with the first of layouts that matches.
func ParseTimeWithMultipleLayouts(s string, layouts ...string) (time.Time, error) {
	var errParseTime error = errors.New("no layout given")

	for _, layout := range layouts {
		parsedTime, err := time.Parse(layout, s)
		if err == nil {
			return parsedTime, nil
		}

		errParseTime = errors.WithMessagef(err, "unable to parse time string %q with provided layouts", s)
	}

	return time.Time{}, errParseTime
}

// ParseDate parses s with DateLayouts.
func ParseDate(s string) (time.Time, error) {
	return ParseTimeWithMultipleLayouts(strings.TrimSpace(s), DateLayouts...)
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DisplayLayout)
}

// ToDDMMYYYY rewrites any accepted date form as DD/MM/YYYY, "" when s is not a date.
func ToDDMMYYYY(s string) string {
	t, err := ParseDate(s)
	if err != nil {
		return ""
	}

	return FormatDate(t)
}

// Today is the local calendar day at midnight.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// AddWeeks moves t by n calendar weeks.
func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, 7*n)
}

// MonthLabel is the short French name of m.
func MonthLabel(m time.Month) string {
	return frenchMonths[m-1]
}

// LastMonths returns the first day of the n months ending with the month of now, oldest first.
func LastMonths(now time.Time, n int) []time.Time {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	months := make([]time.Time, n)
	for i := 0; i < n; i++ {
		months[n-1-i] = first.AddDate(0, -i, 0)
	}

	return months
}
