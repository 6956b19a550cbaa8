// Package textx folds accented text to ASCII for comparisons, status codes and file names.
package textx

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ASCIIFold decomposes s (NFKD) and drops every non-ASCII rune: "Lefèvre" -> "Lefevre", "œ" -> "".
func ASCIIFold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))

	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}

	return out
}

// Norm is the accent and case insensitive comparison key of s.
func Norm(s string) string {
	return strings.ToLower(ASCIIFold(strings.TrimSpace(s)))
}

// NormStatut is the upper-case ASCII form statuses are compared in: "Livrée" -> "LIVREE".
func NormStatut(s string) string {
	return strings.ToUpper(ASCIIFold(strings.TrimSpace(s)))
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const fallbackSlug = "INCONNU"

// Slugify turns name into a file name fragment of at most maxLen bytes.
func Slugify(name string, maxLen int) string {
	if name == "" {
		return fallbackSlug
	}

	s := unsafeFileChars.ReplaceAllString(ASCIIFold(name), "_")
	s = strings.Trim(s, "._-")

	if s == "" {
		return fallbackSlug
	}

	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}

	return s
}
