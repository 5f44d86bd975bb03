package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aidenappl/monitor-trends/discover"
)

// DefaultTrendFunction is used when a request names none
const DefaultTrendFunction = "p50()"

// TrendFunctionSpec describes how a trend function is computed over one
// window. Formatting yields Function(Fixed..., args..., start, end, index).
type TrendFunctionSpec struct {
	Name     string
	Function string
	// Fixed arguments precede the caller's arguments
	Fixed []string
	// Params is the number of arguments the caller must supply
	Params int
	// Alias is the result column prefix, completed by the window index
	Alias string
}

// Format renders the windowed expression for [start, end]
func (s TrendFunctionSpec) Format(args []string, start, end string, index int) string {
	parts := make([]string, 0, len(s.Fixed)+len(args)+3)
	parts = append(parts, s.Fixed...)
	parts = append(parts, args...)
	parts = append(parts, start, end, strconv.Itoa(index))
	return fmt.Sprintf("%s(%s)", s.Function, strings.Join(parts, ", "))
}

// ResultAlias is the column name of the windowed expression with index
func (s TrendFunctionSpec) ResultAlias(index int) string {
	return s.Alias + strconv.Itoa(index)
}

var trendFunctions = map[string]TrendFunctionSpec{
	"p50": {
		Name:     "p50",
		Function: "percentile_range",
		Fixed:    []string{"transaction.duration", "0.5"},
		Alias:    "percentile_range_",
	},
	"avg": {
		Name:     "avg",
		Function: "avg_range",
		Fixed:    []string{"transaction.duration"},
		Alias:    "avg_range_",
	},
	"user_misery": {
		Name:     "user_misery",
		Function: "user_misery_range",
		Params:   1,
		Alias:    "user_misery_range_",
	},
}

// LookupTrendFunction returns the registered spec for name
func LookupTrendFunction(name string) (TrendFunctionSpec, error) {
	spec, ok := trendFunctions[name]
	if !ok {
		return TrendFunctionSpec{}, &UnknownTrendFunctionError{Name: name}
	}
	return spec, nil
}

// ParsedTrendFunction is a trendFunction parameter such as user_misery(300)
type ParsedTrendFunction struct {
	Name string
	Args []string
}

// ParseTrendFunction parses a function-call shaped parameter
func ParseTrendFunction(s string) (ParsedTrendFunction, error) {
	fn, err := discover.ParseFunction(s)
	if err != nil {
		return ParsedTrendFunction{}, &InvalidParamsError{Message: fmt.Sprintf("invalid trendFunction: %s", s)}
	}
	return ParsedTrendFunction{Name: fn.Name, Args: fn.Args}, nil
}

// TrendExpressionSet is the list of columns added to a trends query.
// Index 1 is the earlier window and index 2 the later one.
type TrendExpressionSet struct {
	Metric1    string
	Metric2    string
	Ratio      string
	Delta      string
	Count1     string
	Count2     string
	CountRatio string
}

// Columns returns the expressions in query order
func (s TrendExpressionSet) Columns() []string {
	return []string{s.Metric1, s.Metric2, s.Ratio, s.Delta, s.Count1, s.Count2, s.CountRatio}
}

// BuildTrendExpressions renders both windowed metrics and the derived
// ratio, delta, and count columns
func BuildTrendExpressions(spec TrendFunctionSpec, args []string, w Window) (TrendExpressionSet, error) {
	if len(args) != spec.Params {
		return TrendExpressionSet{}, &InvalidParamsError{
			Message: fmt.Sprintf("%s expects %d argument(s), got %d", spec.Name, spec.Params, len(args)),
		}
	}

	first, second := spec.ResultAlias(1), spec.ResultAlias(2)
	return TrendExpressionSet{
		Metric1:    spec.Format(args, w.Start, w.Middle, 1),
		Metric2:    spec.Format(args, w.Middle, w.End, 2),
		Ratio:      fmt.Sprintf("divide(%s,%s)", second, first),
		Delta:      fmt.Sprintf("minus(%s,%s)", second, first),
		Count1:     fmt.Sprintf("count_range(%s,%s,1)", w.Start, w.Middle),
		Count2:     fmt.Sprintf("count_range(%s,%s,2)", w.Middle, w.End),
		CountRatio: "divide(count_range_2,count_range_1)",
	}, nil
}
