package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/point"
)

func TestMonitoringCurrentProbeRaisesAlarm(t *testing.T) {
	m := &Monitoring{
		Measurement: "ALARMING",
		TagName:     "alarm_type",
		Probes: []Probe{
			{AlarmName: "CPU_HIGH", Field: "cpu", Type: ProbeCurrent, Threshold: 90, Operator: OpGreaterThan},
		},
	}
	pt := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"cpu": 95})

	out := m.Apply([]point.Point{pt})
	require.Len(t, out, 2)
	assert.Equal(t, "ALARMING", out[1].Measurement)
	assert.Equal(t, "CPU_HIGH", out[1].Tags["alarm_type"])
}

func TestMonitoringDeltaProbeNeedsTwoSamples(t *testing.T) {
	m := &Monitoring{
		Measurement: "ALARMING",
		TagName:     "alarm_type",
		Probes: []Probe{
			{AlarmName: "ERR_SPIKE", Field: "errors", Type: ProbeDelta, Threshold: 10, Operator: OpGreaterThan},
		},
	}
	base := time.Now()
	first := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"errors": 5})
	first.Timestamp = base
	second := newPt("m", map[string]string{"device": "r1"}, map[string]interface{}{"errors": 20})
	second.Timestamp = base.Add(time.Second)

	out1 := m.Apply([]point.Point{first})
	require.Len(t, out1, 1, "no alarm on the first sample")

	out2 := m.Apply([]point.Point{second})
	require.Len(t, out2, 2)
	assert.Equal(t, "ERR_SPIKE", out2[1].Tags["alarm_type"])
}

func TestMonitoringCopyTagsFiltersList(t *testing.T) {
	m := &Monitoring{
		Measurement: "ALARMING",
		TagName:     "alarm_type",
		Probes: []Probe{
			{AlarmName: "CPU_HIGH", Field: "cpu", Type: ProbeCurrent, Threshold: 90, Operator: OpGreaterThan, CopyTags: true, Tags: []string{"device"}},
		},
	}
	pt := newPt("m", map[string]string{"device": "r1", "site": "lab"}, map[string]interface{}{"cpu": 95})

	out := m.Apply([]point.Point{pt})
	require.Len(t, out, 2)
	assert.Equal(t, "r1", out[1].Tags["device"])
	_, hasSite := out[1].Tags["site"]
	assert.False(t, hasSite)
}
