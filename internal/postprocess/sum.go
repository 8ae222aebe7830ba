package postprocess

import (
	"github.com/door7302/jts-collector/internal/point"
)

// SumCompute sums the numeric value of Sources into a new field Target.
// A source field that is missing or non-numeric contributes zero.
type SumCompute struct {
	Sources []string
	Target  string
}

// Sum adds one derived field per SumCompute entry to every point that
// carries at least one of its source fields.
type Sum struct {
	Fields []SumCompute
}

// Apply implements Processor.
func (s *Sum) Apply(points []point.Point) []point.Point {
	for i := range points {
		pt := points[i]
		for _, c := range s.Fields {
			var total float64
			found := false
			for _, src := range c.Sources {
				raw, ok := pt.Fields[src]
				if !ok {
					continue
				}
				v, ok := convertNumeric(raw)
				if !ok {
					continue
				}
				total += v
				found = true
			}
			if found {
				pt.SetField(c.Target, total)
			}
		}
		points[i] = pt
	}
	return points
}
