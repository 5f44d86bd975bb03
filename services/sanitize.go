package services

import (
	"math"

	"github.com/aidenappl/monitor-trends/structs"
)

// SanitizeRows returns a copy of rows with every NaN or infinite float
// replaced by nil, since neither can be encoded as JSON
func SanitizeRows(rows []structs.Row) []structs.Row {
	out := make([]structs.Row, len(rows))
	for i, row := range rows {
		clean := make(structs.Row, len(row))
		for key, value := range row {
			clean[key] = sanitizeValue(value)
		}
		out[i] = clean
	}
	return out
}

func sanitizeValue(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}
