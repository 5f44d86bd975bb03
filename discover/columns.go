package discover

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the layout of date arguments inside column expressions
const DateFormat = "2006-01-02T15:04:05"

// Result types reported in EventsResult.Meta
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeNumber   = "number"
	TypeDate     = "date"
	TypeDuration = "duration"
)

const rangeCondition = "timestamp >= ? AND timestamp < ?"

var (
	functionRegex = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\((.*)\)$`)
	identRegex    = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	nonWordRegex  = regexp.MustCompile(`[^\w]`)
)

// Function is a parsed function-call column such as user_misery(300)
type Function struct {
	Name string
	Args []string
}

// ParseFunction splits "name(arg, ...)" into its name and arguments
func ParseFunction(s string) (Function, error) {
	m := functionRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Function{}, invalidf("%s is not a valid function", s)
	}
	var args []string
	for _, arg := range strings.Split(m[2], ",") {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	return Function{Name: m[1], Args: args}, nil
}

func (f Function) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(f.Args, ", "))
}

// functionAlias builds the result column name of a function, e.g.
// divide(count_range_2,count_range_1) -> divide_count_range_2_count_range_1
func functionAlias(name string, args []string) string {
	alias := name + "_" + strings.Join(args, "_")
	return strings.TrimRight(nonWordRegex.ReplaceAllString(alias, "_"), "_")
}

// Column is a selected field or aggregate resolved to ClickHouse SQL
type Column struct {
	Name      string
	Alias     string
	Expr      string
	Args      []any
	Aggregate bool
	Type      string

	// aliases of other aggregates this column is computed from
	refs []string
}

type field struct {
	expr string
	typ  string
}

var fields = map[string]field{
	"id":                   {"toString(event_id)", TypeString},
	"transaction":          {"transaction", TypeString},
	"project":              {"project", TypeString},
	"project.id":           {"project_id", TypeInteger},
	"environment":          {"environment", TypeString},
	"release":              {"release", TypeString},
	"user":                 {"user", TypeString},
	"timestamp":            {"timestamp", TypeDate},
	"transaction.duration": {"duration", TypeDuration},
}

type function struct {
	minArgs int
	maxArgs int
	resolve func(args []string) (Column, error)
}

var functions = map[string]function{
	"count": {0, 0, func([]string) (Column, error) {
		return Column{Expr: "count()", Type: TypeInteger}, nil
	}},
	"p50":               percentileShortcut(0.5),
	"p75":               percentileShortcut(0.75),
	"p95":               percentileShortcut(0.95),
	"p99":               percentileShortcut(0.99),
	"avg":               {0, 1, resolveAvg},
	"percentile":        {2, 2, resolvePercentile},
	"user_misery":       {1, 1, resolveUserMisery},
	"percentile_range":  {5, 5, resolvePercentileRange},
	"avg_range":         {4, 4, resolveAvgRange},
	"user_misery_range": {4, 4, resolveUserMiseryRange},
	"count_range":       {3, 3, resolveCountRange},
	"divide":            {2, 2, resolveBinary("divide", "/")},
	"minus":             {2, 2, resolveBinary("minus", "-")},
}

// ResolveColumn resolves a field name or function call
func ResolveColumn(name string) (Column, error) {
	name = strings.TrimSpace(name)
	if f, ok := fields[name]; ok {
		return Column{Name: name, Alias: name, Expr: f.expr, Type: f.typ}, nil
	}
	if !strings.Contains(name, "(") {
		return Column{}, invalidf("unknown field: %s", name)
	}

	fn, err := ParseFunction(name)
	if err != nil {
		return Column{}, err
	}
	def, ok := functions[fn.Name]
	if !ok {
		return Column{}, invalidf("unknown function: %s", fn.Name)
	}
	if len(fn.Args) < def.minArgs || len(fn.Args) > def.maxArgs {
		return Column{}, invalidf("%s: expected between %d and %d arguments, got %d", fn.Name, def.minArgs, def.maxArgs, len(fn.Args))
	}

	col, err := def.resolve(fn.Args)
	if err != nil {
		return Column{}, err
	}
	col.Name = name
	col.Aggregate = true
	if col.Alias == "" {
		col.Alias = functionAlias(fn.Name, fn.Args)
	}
	return col, nil
}

// resolveColumns resolves the selected columns of a query. With autoFields,
// identity fields needed to interpret the rows are added.
func resolveColumns(names []string, autoFields bool) ([]Column, error) {
	var cols []Column
	seen := make(map[string]bool)
	add := func(c Column) {
		if !seen[c.Alias] {
			seen[c.Alias] = true
			cols = append(cols, c)
		}
	}

	for _, name := range names {
		c, err := ResolveColumn(name)
		if err != nil {
			return nil, err
		}
		add(c)
	}

	if autoFields {
		if seen["project"] && !seen["project.id"] {
			c, _ := ResolveColumn("project.id")
			add(c)
		}
		if !hasAggregate(cols) && !seen["id"] {
			c, _ := ResolveColumn("id")
			add(c)
		}
	}

	if len(cols) == 0 {
		return nil, invalidf("no columns selected")
	}

	byAlias := make(map[string]Column, len(cols))
	for _, c := range cols {
		byAlias[c.Alias] = c
	}
	for i, c := range cols {
		for _, ref := range c.refs {
			target, ok := byAlias[ref]
			if !ok || !target.Aggregate {
				return nil, invalidf("%s references %s, which is not a selected aggregate", c.Name, ref)
			}
		}
		if c.Type == "" {
			cols[i].Type = byAlias[c.refs[0]].Type
		}
	}
	return cols, nil
}

func hasAggregate(cols []Column) bool {
	for _, c := range cols {
		if c.Aggregate {
			return true
		}
	}
	return false
}

func percentileShortcut(p float64) function {
	return function{0, 0, func([]string) (Column, error) {
		return Column{
			Expr: fmt.Sprintf("quantile(%s)(duration)", formatFloat(p)),
			Type: TypeDuration,
		}, nil
	}}
}

func resolveAvg(args []string) (Column, error) {
	col := "transaction.duration"
	if len(args) == 1 {
		col = args[0]
	}
	f, err := numericField(col)
	if err != nil {
		return Column{}, err
	}
	return Column{Expr: fmt.Sprintf("avg(%s)", f.expr), Type: f.typ}, nil
}

func resolvePercentile(args []string) (Column, error) {
	f, err := numericField(args[0])
	if err != nil {
		return Column{}, err
	}
	p, err := parsePercentile(args[1])
	if err != nil {
		return Column{}, err
	}
	return Column{Expr: fmt.Sprintf("quantile(%s)(%s)", formatFloat(p), f.expr), Type: f.typ}, nil
}

func resolveUserMisery(args []string) (Column, error) {
	threshold, err := parseThreshold(args[0])
	if err != nil {
		return Column{}, err
	}
	return Column{
		Expr: fmt.Sprintf("uniqIf(user, duration > %d)", threshold*4),
		Type: TypeInteger,
	}, nil
}

func resolvePercentileRange(args []string) (Column, error) {
	f, err := numericField(args[0])
	if err != nil {
		return Column{}, err
	}
	p, err := parsePercentile(args[1])
	if err != nil {
		return Column{}, err
	}
	bounds, err := parseRange(args[2], args[3])
	if err != nil {
		return Column{}, err
	}
	index, err := parseIndex(args[4])
	if err != nil {
		return Column{}, err
	}
	return Column{
		Alias: "percentile_range_" + index,
		Expr:  fmt.Sprintf("quantileIf(%s)(%s, %s)", formatFloat(p), f.expr, rangeCondition),
		Args:  bounds,
		Type:  f.typ,
	}, nil
}

func resolveAvgRange(args []string) (Column, error) {
	f, err := numericField(args[0])
	if err != nil {
		return Column{}, err
	}
	bounds, err := parseRange(args[1], args[2])
	if err != nil {
		return Column{}, err
	}
	index, err := parseIndex(args[3])
	if err != nil {
		return Column{}, err
	}
	return Column{
		Alias: "avg_range_" + index,
		Expr:  fmt.Sprintf("avgIf(%s, %s)", f.expr, rangeCondition),
		Args:  bounds,
		Type:  f.typ,
	}, nil
}

func resolveUserMiseryRange(args []string) (Column, error) {
	threshold, err := parseThreshold(args[0])
	if err != nil {
		return Column{}, err
	}
	bounds, err := parseRange(args[1], args[2])
	if err != nil {
		return Column{}, err
	}
	index, err := parseIndex(args[3])
	if err != nil {
		return Column{}, err
	}
	return Column{
		Alias: "user_misery_range_" + index,
		Expr:  fmt.Sprintf("uniqIf(user, duration > %d AND %s)", threshold*4, rangeCondition),
		Args:  bounds,
		Type:  TypeInteger,
	}, nil
}

func resolveCountRange(args []string) (Column, error) {
	bounds, err := parseRange(args[0], args[1])
	if err != nil {
		return Column{}, err
	}
	index, err := parseIndex(args[2])
	if err != nil {
		return Column{}, err
	}
	return Column{
		Alias: "count_range_" + index,
		Expr:  fmt.Sprintf("countIf(%s)", rangeCondition),
		Args:  bounds,
		Type:  TypeInteger,
	}, nil
}

// resolveBinary builds divide/minus, whose arguments are aliases of other
// selected aggregates. minus keeps the type of its left operand.
func resolveBinary(name, op string) func(args []string) (Column, error) {
	return func(args []string) (Column, error) {
		for _, arg := range args {
			if !identRegex.MatchString(arg) {
				return Column{}, invalidf("%s arguments must be column aliases, got %q", name, arg)
			}
		}
		col := Column{
			Expr: fmt.Sprintf("%s %s %s", args[0], op, args[1]),
			refs: args,
		}
		if name == "divide" {
			col.Type = TypeNumber
		}
		return col, nil
	}
}

func numericField(name string) (field, error) {
	f, ok := fields[name]
	if !ok {
		return field{}, invalidf("unknown field: %s", name)
	}
	switch f.typ {
	case TypeDuration, TypeNumber, TypeInteger:
		return f, nil
	}
	return field{}, invalidf("%s is not a numeric field", name)
}

func parsePercentile(s string) (float64, error) {
	p, err := strconv.ParseFloat(s, 64)
	if err != nil || p < 0 || p > 1 {
		return 0, invalidf("invalid percentile: %s", s)
	}
	return p, nil
}

func parseThreshold(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, invalidf("invalid threshold: %s", s)
	}
	return n, nil
}

func parseIndex(s string) (string, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return "", invalidf("invalid index: %s", s)
	}
	return strconv.Itoa(n), nil
}

func parseRange(startArg, endArg string) ([]any, error) {
	start, err := time.ParseInLocation(DateFormat, startArg, time.UTC)
	if err != nil {
		return nil, invalidf("invalid date: %s", startArg)
	}
	end, err := time.ParseInLocation(DateFormat, endArg, time.UTC)
	if err != nil {
		return nil, invalidf("invalid date: %s", endArg)
	}
	if !start.Before(end) {
		return nil, invalidf("range start %s must be before end %s", startArg, endArg)
	}
	return []any{start, end}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
