package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/point"
)

func TestJitterEmitsAlarmOnDeviation(t *testing.T) {
	j := &Jitter{Interval: 60 * time.Second, JitterMax: 5 * time.Second}
	base := time.Now()

	first := newPt("m", map[string]string{"device": "r1"}, nil)
	first.Timestamp = base
	second := newPt("m", map[string]string{"device": "r1"}, nil)
	second.Timestamp = base.Add(90 * time.Second)

	j.Apply([]point.Point{first})
	out := j.Apply([]point.Point{second})

	require.Len(t, out, 2)
	var alarms int
	for _, pt := range out {
		if pt.Measurement == "JITTER_MEASUREMENT" {
			alarms++
			assert.Equal(t, "r1", pt.Tags["device"])
			_, ok := pt.Fields["exception"]
			assert.True(t, ok)
		}
	}
	assert.Equal(t, 1, alarms)
}

func TestJitterNoAlarmWithinTolerance(t *testing.T) {
	j := &Jitter{Interval: 60 * time.Second, JitterMax: 10 * time.Second}
	base := time.Now()

	first := newPt("m", map[string]string{"device": "r1"}, nil)
	first.Timestamp = base
	second := newPt("m", map[string]string{"device": "r1"}, nil)
	second.Timestamp = base.Add(62 * time.Second)

	j.Apply([]point.Point{first})
	out := j.Apply([]point.Point{second})

	assert.Len(t, out, 1)
}
