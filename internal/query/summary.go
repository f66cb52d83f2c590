package query

import (
	"sort"

	"github.com/i474232898/air-weather-aggregation/internal/records"
)

// SummarizeMeasurements reduces measurements to one summary per parameter and unit.
// Input is expected in timestamp order; First and Last are taken from the extremes anyway.
func SummarizeMeasurements(measurements []records.Measurement) []records.ParameterSummary {
	type key struct {
		parameter string
		unit      string
	}

	var (
		sums    = make(map[key]float64)
		byKey   = make(map[key]*records.ParameterSummary)
		ordered []key
	)

	for _, m := range measurements {
		k := key{parameter: m.Parameter, unit: m.Unit}

		s, ok := byKey[k]
		if !ok {
			s = &records.ParameterSummary{
				Parameter: m.Parameter,
				Unit:      m.Unit,
				Min:       m.Value,
				Max:       m.Value,
				First:     m.Timestamp,
				Last:      m.Timestamp,
			}
			byKey[k] = s
			ordered = append(ordered, k)
		}

		s.Count++
		sums[k] += m.Value

		if m.Value < s.Min {
			s.Min = m.Value
		}
		if m.Value > s.Max {
			s.Max = m.Value
		}
		if m.Timestamp.Before(s.First) {
			s.First = m.Timestamp
		}
		if m.Timestamp.After(s.Last) {
			s.Last = m.Timestamp
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].parameter != ordered[j].parameter {
			return ordered[i].parameter < ordered[j].parameter
		}
		return ordered[i].unit < ordered[j].unit
	})

	out := make([]records.ParameterSummary, 0, len(ordered))
	for _, k := range ordered {
		s := byKey[k]
		s.Mean = sums[k] / float64(s.Count)
		out = append(out, *s)
	}
	return out
}
