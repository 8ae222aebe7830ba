package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/point"
)

func TestRateComputesPerSecondDelta(t *testing.T) {
	r := &Rate{Fields: []string{"octets"}, Suffix: "_rate", Factor: 8}
	base := time.Now()

	first := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"octets": 100})
	first.Timestamp = base
	second := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"octets": 200})
	second.Timestamp = base.Add(time.Second)

	r.Apply([]point.Point{first})
	out := r.Apply([]point.Point{second})

	require.Len(t, out, 1)
	rate, ok := out[0].Fields["octets_rate"]
	require.True(t, ok)
	assert.Equal(t, float64(800), rate)
}

func TestRateDiscardsNegativeDeltaButUpdatesCache(t *testing.T) {
	r := &Rate{Fields: []string{"octets"}, Suffix: "_rate", Factor: 1}
	base := time.Now()

	first := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"octets": 500})
	first.Timestamp = base
	second := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"octets": 10})
	second.Timestamp = base.Add(time.Second)

	r.Apply([]point.Point{first})
	out := r.Apply([]point.Point{second})

	require.Len(t, out, 1)
	_, ok := out[0].Fields["octets_rate"]
	assert.False(t, ok, "a counter reset must not produce a rate field")
}
