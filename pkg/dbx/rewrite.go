package dbx

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// Named is a payload bound to :name placeholders.
type Named map[string]any

// Rewrite turns a query written with :name or ? placeholders into pgx native form.
//
// A map payload rewrites every :name token outside quotes, comments and :: casts to @name and
// binds the map as pgx.NamedArgs. A non-empty slice payload rewrites every ? outside quotes and
// comments to $1..$n, expanding slice arguments (IN lists). A nil or empty payload leaves the query untouched.
func Rewrite(query string, params any) (string, []any, error) {
	switch p := params.(type) {
	case nil:
		return query, nil, nil
	case Named:
		return rewriteNamed(query, p)
	case map[string]any:
		return rewriteNamed(query, p)
	case pgx.NamedArgs:
		return rewriteNamed(query, p)
	case []any:
		return rewritePositional(query, p)
	}

	// any other slice type is treated as a positional payload
	v := reflect.ValueOf(params)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		args := make([]any, v.Len())
		for i := range args {
			args[i] = v.Index(i).Interface()
		}

		return rewritePositional(query, args)
	}

	return "", nil, errorx.NewBridgeError(errorx.KindQueryExecution, "unsupported parameter payload %T", params)
}

func rewriteNamed(query string, params map[string]any) (string, []any, error) {
	if len(params) == 0 {
		return query, nil, nil
	}

	var (
		out     strings.Builder
		missing []string
	)

	out.Grow(len(query))

	scanPlaceholders(query, ':', true, func(token string, isPlaceholder bool) {
		if !isPlaceholder {
			out.WriteString(token)
			return
		}

		name := token[1:]
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}

		out.WriteByte('@')
		out.WriteString(name)
	})

	if len(missing) > 0 {
		return "", nil, errorx.NewBridgeError(errorx.KindQueryExecution,
			"missing named parameter(s): %s", strings.Join(missing, ", "))
	}

	return out.String(), []any{pgx.NamedArgs(params)}, nil
}

// rewritePositional numbers every ? outside quotes and comments as $n.
// A slice argument is expanded by sqlx.In into one marker per element.
func rewritePositional(query string, args []any) (string, []any, error) {
	if len(args) == 0 {
		return query, nil, nil
	}

	var (
		parts []string
		marks []bool
	)

	scanPlaceholders(query, '?', false, func(token string, isPlaceholder bool) {
		parts = append(parts, token)
		marks = append(marks, isPlaceholder)
	})

	placeholders := 0
	for _, isPlaceholder := range marks {
		if isPlaceholder {
			placeholders++
		}
	}

	if placeholders != len(args) {
		return "", nil, errorx.NewBridgeError(errorx.KindQueryExecution,
			"query has %d placeholder(s) but %d argument(s) were given", placeholders, len(args))
	}

	var out strings.Builder

	out.Grow(len(query) + 2*len(args))

	bound := make([]any, 0, len(args))
	next := 0

	for i, part := range parts {
		if !marks[i] {
			out.WriteString(part)
			continue
		}

		expanded, flat, err := sqlx.In("?", args[next])
		if err != nil {
			return "", nil, errorx.NewBridgeErrorWrapper(errorx.KindQueryExecution, err,
				"expand positional parameter %d", next+1)
		}

		next++

		k := 0

		for j := 0; j < len(expanded); j++ {
			if expanded[j] != '?' {
				out.WriteByte(expanded[j])
				continue
			}

			bound = append(bound, flat[k])
			k++

			out.WriteByte('$')
			out.WriteString(strconv.Itoa(len(bound)))
		}
	}

	return out.String(), bound, nil
}

// scanPlaceholders splits query into literal text and placeholder tokens.
// When named is set a placeholder is prefix followed by an identifier, otherwise the bare prefix.
// Quoted literals and identifiers, dollar-quoted bodies, line and block comments and a doubled prefix (::) are literal text.
func scanPlaceholders(query string, prefix byte, named bool, emit func(token string, isPlaceholder bool)) {
	start := 0

	flush := func(end int) {
		if end > start {
			emit(query[start:end], false)
		}
	}

	for i := 0; i < len(query); i++ {
		c := query[i]

		switch {
		case c == '\'' || c == '"':
			i = skipQuoted(query, i, c)
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			for i < len(query) && query[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			i = skipBlockComment(query, i)
		case c == '$':
			i = skipDollarQuoted(query, i)
		case c == prefix && i+1 < len(query) && query[i+1] == prefix:
			i++
		case c == prefix:
			end := i + 1
			for named && end < len(query) && isIdentByte(query[end], end == i+1) {
				end++
			}

			if named && end == i+1 {
				continue
			}

			flush(i)
			emit(query[i:end], true)

			start = end
			i = end - 1
		}
	}

	flush(len(query))
}

// skipBlockComment returns the index of the final '/' of a possibly nested /* */ comment.
func skipBlockComment(query string, open int) int {
	depth := 0

	for i := open; i+1 < len(query); i++ {
		switch {
		case query[i] == '/' && query[i+1] == '*':
			depth++
			i++
		case query[i] == '*' && query[i+1] == '/':
			depth--
			i++

			if depth == 0 {
				return i
			}
		}
	}

	return len(query) - 1
}

// skipDollarQuoted returns the index of the last '$' of a $tag$ ... $tag$ body starting at open.
// A '$' that does not open a dollar quote ($1, identifiers containing $) is returned unchanged.
func skipDollarQuoted(query string, open int) int {
	if open > 0 && (isIdentByte(query[open-1], false) || query[open-1] == '$') {
		return open
	}

	end := open + 1
	for end < len(query) && isIdentByte(query[end], end == open+1) {
		end++
	}

	if end >= len(query) || query[end] != '$' {
		return open
	}

	tag := query[open : end+1]

	closing := strings.Index(query[end+1:], tag)
	if closing < 0 {
		return len(query) - 1
	}

	return end + closing + len(tag)
}

// skipQuoted returns the index of the closing quote, honouring doubled quotes as escapes.
func skipQuoted(query string, open int, quote byte) int {
	for i := open + 1; i < len(query); i++ {
		if query[i] != quote {
			continue
		}

		if i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}

		return i
	}

	return len(query) - 1
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}

	return false
}
