package structs

import (
	"time"

	"github.com/goccy/go-json"
)

// Row is a single result row keyed by column alias
type Row map[string]any

// FilterParams is the resolved project/environment/time scope of a request.
// It is computed once per request and shared by every query it issues.
type FilterParams struct {
	ProjectIDs   []uint64  `json:"project_ids"`
	Environments []string  `json:"environments,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// EventsResult holds aggregate rows plus the result type of each column
type EventsResult struct {
	Data []Row             `json:"data"`
	Meta map[string]string `json:"meta"`
}

// TimeSeries is one bucketed series of a top-events stats result
type TimeSeries struct {
	Data  []DataPoint `json:"data"`
	Order int         `json:"order"`
}

// DataPoint is a single bucket in a time series. A nil Value means the
// engine produced no finite value for the bucket.
type DataPoint struct {
	Timestamp time.Time
	Value     *float64
}

// MarshalJSON encodes the point as [unix_seconds, [{"count": value}]]
func (p DataPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		p.Timestamp.Unix(),
		[]map[string]*float64{{"count": p.Value}},
	})
}

// TrendResponse is the body of a trends request
type TrendResponse struct {
	Events *EventsResult         `json:"events"`
	Stats  map[string]TimeSeries `json:"stats"`
}
