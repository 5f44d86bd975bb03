package discover

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
)

// searchFilter is one term of a search query: key:value, !key:>value, or
// a bare word matched against the transaction name
type searchFilter struct {
	key     string
	op      string
	value   string
	negated bool
	free    bool
}

var operators = []string{">=", "<=", ">", "<"}

// parseSearch splits a search query into filters. Values may be quoted to
// include whitespace.
func parseSearch(query string) ([]searchFilter, error) {
	tokens, err := tokenize(query)
	if err != nil {
		return nil, err
	}

	filters := make([]searchFilter, 0, len(tokens))
	for _, tok := range tokens {
		idx := strings.Index(tok, ":")
		if idx <= 0 || strings.HasPrefix(tok, `"`) {
			filters = append(filters, searchFilter{free: true, value: unquote(tok)})
			continue
		}

		f := searchFilter{key: tok[:idx], op: "="}
		if strings.HasPrefix(f.key, "!") {
			f.negated = true
			f.key = f.key[1:]
		}
		if f.key == "" {
			return nil, invalidf("invalid search term: %s", tok)
		}

		value := tok[idx+1:]
		for _, op := range operators {
			if strings.HasPrefix(value, op) {
				f.op = op
				value = value[len(op):]
				break
			}
		}
		f.value = unquote(value)
		filters = append(filters, f)
	}
	return filters, nil
}

func tokenize(query string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuote := false

	for _, r := range query {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, invalidf("unterminated quote in search query")
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// buildConditions turns search filters into WHERE conditions, and HAVING
// conditions for filters on aggregates. Aggregate filters are dropped
// unless useAggregates is set.
func buildConditions(filters []searchFilter, selected []Column, useAggregates bool) (where, having []sq.Sqlizer, err error) {
	byAlias := make(map[string]Column, len(selected))
	for _, c := range selected {
		byAlias[c.Alias] = c
	}

	for _, f := range filters {
		if f.free {
			where = append(where, sq.ILike{"transaction": "%" + escapeLike(f.value) + "%"})
			continue
		}

		if fld, ok := fields[f.key]; ok {
			cond, err := fieldCondition(f, fld)
			if err != nil {
				return nil, nil, err
			}
			where = append(where, cond)
			continue
		}

		col, ok := byAlias[f.key]
		if !ok || !col.Aggregate {
			col, err = ResolveColumn(f.key)
			if err != nil {
				return nil, nil, invalidf("invalid search key: %s", f.key)
			}
			if !col.Aggregate {
				return nil, nil, invalidf("invalid search key: %s", f.key)
			}
		}
		if !useAggregates {
			continue
		}
		cond, err := aggregateCondition(f, col, byAlias)
		if err != nil {
			return nil, nil, err
		}
		having = append(having, cond)
	}
	return where, having, nil
}

func fieldCondition(f searchFilter, fld field) (sq.Sqlizer, error) {
	switch fld.typ {
	case TypeString:
		if f.op != "=" {
			return nil, invalidf("%s does not support %s comparisons", f.key, f.op)
		}
		if strings.Contains(f.value, "*") {
			pattern := strings.ReplaceAll(escapeLike(f.value), "*", "%")
			if f.negated {
				return sq.NotLike{fld.expr: pattern}, nil
			}
			return sq.Like{fld.expr: pattern}, nil
		}
		if f.negated {
			return sq.NotEq{fld.expr: f.value}, nil
		}
		return sq.Eq{fld.expr: f.value}, nil
	}

	value, err := parseValue(f.value, fld.typ)
	if err != nil {
		return nil, invalidf("invalid value for %s: %s", f.key, f.value)
	}
	op := f.op
	if f.negated {
		op = negate(op)
	}
	switch op {
	case "=":
		return sq.Eq{fld.expr: value}, nil
	case "!=":
		return sq.NotEq{fld.expr: value}, nil
	case ">":
		return sq.Gt{fld.expr: value}, nil
	case ">=":
		return sq.GtOrEq{fld.expr: value}, nil
	case "<":
		return sq.Lt{fld.expr: value}, nil
	default:
		return sq.LtOrEq{fld.expr: value}, nil
	}
}

// aggregateCondition compares a selected alias directly, or the full
// aggregate expression when the aggregate is not selected
func aggregateCondition(f searchFilter, col Column, selected map[string]Column) (sq.Sqlizer, error) {
	value, err := parseValue(f.value, col.Type)
	if err != nil {
		return nil, invalidf("invalid value for %s: %s", f.key, f.value)
	}
	op := f.op
	if f.negated {
		op = negate(op)
	}

	if _, ok := selected[col.Alias]; ok {
		return sq.Expr(fmt.Sprintf("%s %s ?", quoteIdent(col.Alias), op), value), nil
	}
	args := append(append([]any{}, col.Args...), value)
	return sq.Expr(fmt.Sprintf("(%s) %s ?", col.Expr, op), args...), nil
}

func negate(op string) string {
	switch op {
	case "=":
		return "!="
	case ">":
		return "<="
	case ">=":
		return "<"
	case "<":
		return ">="
	default:
		return ">"
	}
}

// parseValue converts a search value to the column's type. Durations accept
// ms, s, m (min), and h suffixes and are compared in milliseconds.
func parseValue(s, typ string) (any, error) {
	switch typ {
	case TypeInteger:
		return strconv.ParseInt(s, 10, 64)
	case TypeDate:
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		return time.ParseInLocation(DateFormat, s, time.UTC)
	case TypeDuration:
		return parseDurationMillis(s)
	default:
		return strconv.ParseFloat(s, 64)
	}
}

var durationUnits = []struct {
	suffix string
	millis float64
}{
	{"ms", 1},
	{"min", 60_000},
	{"s", 1000},
	{"m", 60_000},
	{"h", 3_600_000},
}

func parseDurationMillis(s string) (float64, error) {
	for _, u := range durationUnits {
		if strings.HasSuffix(s, u.suffix) {
			v, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			if err != nil {
				return 0, err
			}
			return v * u.millis, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func quoteIdent(s string) string {
	if identRegex.MatchString(s) {
		return s
	}
	return "`" + strings.ReplaceAll(s, "`", "\\`") + "`"
}
