// Package postprocess adapts the collection agent's metric-shaping stages
// — filtering, key reduction, derived-field computation and tag
// enrichment — to operate on point.Point instead of a wire metric type,
// so they can run as an optional pipeline between parsing and the sink.
package postprocess

import (
	"github.com/sirupsen/logrus"

	"github.com/door7302/jts-collector/internal/point"
)

var log = logrus.WithField("component", "postprocess")

// Processor transforms a batch of points, optionally adding, dropping or
// mutating entries. Implementations must not retain the input slice.
type Processor interface {
	Apply(points []point.Point) []point.Point
}

// Pipeline runs a fixed, ordered chain of Processors over a batch,
// feeding each stage's output to the next.
type Pipeline struct {
	Stages []Processor
}

// New builds a Pipeline running stages in the given order.
func New(stages ...Processor) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Apply runs every stage in order, returning the final batch.
func (p *Pipeline) Apply(points []point.Point) []point.Point {
	for _, stage := range p.Stages {
		points = stage.Apply(points)
	}
	return points
}

// convertNumeric normalizes a field value to float64, matching the
// original processors' shared handling of int64/uint64/float64 fields.
func convertNumeric(in interface{}) (float64, bool) {
	switch v := in.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
