package postprocess

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

// Jitter watches the sampling interval of the points it sees (keyed by
// measurement+tags) and emits a synthetic alarm point when two
// consecutive samples of the same series arrive more than JitterMax away
// from the expected Interval.
type Jitter struct {
	Measurement string
	Interval    time.Duration
	JitterMax   time.Duration
	Period      time.Duration
	Retention   time.Duration

	mu          sync.Mutex
	cache       map[uint64]time.Time
	lastCleared time.Time
	initialized bool
}

func (j *Jitter) init() {
	if j.initialized {
		return
	}
	j.cache = make(map[uint64]time.Time)
	j.lastCleared = time.Now()
	if j.Period <= 0 {
		j.Period = 10 * time.Minute
	}
	if j.Retention <= 0 {
		j.Retention = time.Hour
	}
	if j.Measurement == "" {
		j.Measurement = "JITTER_MEASUREMENT"
	}
	j.initialized = true
}

func seriesKey(pt point.Point) uint64 {
	h := fnv.New64a()
	h.Write([]byte(pt.Measurement))
	h.Write([]byte{0})
	keys := make([]string, 0, len(pt.Tags))
	for k := range pt.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(pt.Tags[k]))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Apply implements Processor. Alarm points carry the same tags as the
// source point plus the measured deviation in the "exception" field.
func (j *Jitter) Apply(points []point.Point) []point.Point {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.init()

	if time.Now().After(j.lastCleared.Add(j.Period)) {
		deleted := 0
		for k, tm := range j.cache {
			if time.Now().After(tm.Add(j.Retention)) {
				delete(j.cache, k)
				deleted++
			}
		}
		log.WithField("deleted", deleted).Debug("jitter cache cleanup")
		j.lastCleared = time.Now()
	}

	alarms := make([]point.Point, 0)
	for _, pt := range points {
		key := seriesKey(pt)
		prev, known := j.cache[key]
		j.cache[key] = pt.Timestamp
		if !known {
			continue
		}
		delta := pt.Timestamp.Sub(prev)
		deviation := delta - j.Interval
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation <= j.JitterMax {
			continue
		}
		alarm := point.New(j.Measurement)
		alarm.Timestamp = pt.Timestamp
		alarm.MergeTags(pt.Tags)
		alarm.SetField("exception", deviation.Seconds())
		alarms = append(alarms, alarm)
	}
	return append(points, alarms...)
}
