package postprocess

import (
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

// ProbeType selects how Monitoring compares a field's value against a
// probe's threshold.
type ProbeType string

const (
	ProbeCurrent      ProbeType = "current"
	ProbeDelta        ProbeType = "delta"
	ProbeDeltaPercent ProbeType = "delta_percent"
	ProbeDeltaRate    ProbeType = "delta_rate"
)

// Operator is the threshold comparison a Probe applies.
type Operator string

const (
	OpLessThan    Operator = "lt"
	OpGreaterThan Operator = "gt"
	OpEqual       Operator = "eq"
)

// Probe watches one field and raises an alarm point when its current
// value, delta, delta percentage or rate crosses Threshold.
type Probe struct {
	AlarmName string
	Field     string
	Type      ProbeType
	Threshold float64
	MinValue  float64
	Operator  Operator
	CopyTags  bool
	Tags      []string
}

type monitoringSample struct {
	tags   map[string]string
	fields map[string]float64
	tm     time.Time
}

// Monitoring turns threshold crossings on selected fields into alarm
// points on Measurement, tagged with TagName=<probe alarm name>.
type Monitoring struct {
	Measurement string
	TagName     string
	Period      time.Duration
	Retention   time.Duration
	Probes      []Probe

	mu          sync.Mutex
	byField     map[string]Probe
	cache       map[uint64]monitoringSample
	lastCleared time.Time
	initialized bool
}

func (m *Monitoring) init() {
	if m.initialized {
		return
	}
	m.byField = make(map[string]Probe, len(m.Probes))
	for _, p := range m.Probes {
		m.byField[p.Field] = p
	}
	m.cache = make(map[uint64]monitoringSample)
	if m.Period <= 0 {
		m.Period = 10 * time.Minute
	}
	if m.Retention <= 0 {
		m.Retention = time.Hour
	}
	m.lastCleared = time.Now()
	m.initialized = true
}

func compare(op Operator, value, threshold float64) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

func (m *Monitoring) alarm(probe Probe, value float64, sample monitoringSample) point.Point {
	alarm := point.New(m.Measurement)
	alarm.Timestamp = sample.tm
	alarm.SetTag(m.TagName, probe.AlarmName)
	alarm.SetField("exception", value)

	if probe.CopyTags {
		if len(probe.Tags) > 0 {
			for _, key := range probe.Tags {
				if v, ok := sample.tags[key]; ok {
					alarm.SetTag(key, v)
				}
			}
		} else {
			alarm.MergeTags(sample.tags)
		}
	}
	return alarm
}

// Apply implements Processor.
func (m *Monitoring) Apply(points []point.Point) []point.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()

	if time.Now().After(m.lastCleared.Add(m.Period)) {
		deleted := 0
		for k, v := range m.cache {
			if time.Now().After(v.tm.Add(m.Retention)) {
				delete(m.cache, k)
				deleted++
			}
		}
		log.WithField("deleted", deleted).Debug("monitoring cache cleanup")
		m.lastCleared = time.Now()
	}

	var alarms []point.Point
	for _, pt := range points {
		key := seriesKey(pt)
		sample := monitoringSample{tags: pt.Tags, fields: make(map[string]float64), tm: pt.Timestamp}
		hasField := false
		for field, raw := range pt.Fields {
			if _, tracked := m.byField[field]; !tracked {
				continue
			}
			v, ok := convertNumeric(raw)
			if !ok {
				continue
			}
			sample.fields[field] = v
			hasField = true
		}
		if !hasField {
			continue
		}

		for field, value := range sample.fields {
			probe := m.byField[field]
			if value < probe.MinValue {
				continue
			}

			prev, known := m.cache[key]

			switch probe.Type {
			case ProbeCurrent:
				if compare(probe.Operator, value, probe.Threshold) {
					alarms = append(alarms, m.alarm(probe, value, sample))
				}
			case ProbeDelta:
				if known {
					if lv, ok := prev.fields[field]; ok {
						delta := value - lv
						if compare(probe.Operator, delta, probe.Threshold) {
							alarms = append(alarms, m.alarm(probe, delta, sample))
						}
					}
				}
			case ProbeDeltaPercent:
				if known {
					if lv, ok := prev.fields[field]; ok && lv != 0 {
						deltaPct := ((value - lv) / lv) * 100
						if compare(probe.Operator, deltaPct, probe.Threshold) {
							alarms = append(alarms, m.alarm(probe, deltaPct, sample))
						}
					}
				}
			case ProbeDeltaRate:
				if known {
					if lv, ok := prev.fields[field]; ok {
						seconds := sample.tm.Sub(prev.tm).Seconds()
						if seconds > 0 {
							rate := (value - lv) / seconds
							if compare(probe.Operator, rate, probe.Threshold) {
								alarms = append(alarms, m.alarm(probe, rate, sample))
							}
						}
					}
				}
			}
		}
		m.cache[key] = sample
	}
	return append(points, alarms...)
}
