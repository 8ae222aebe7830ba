package postprocess

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

type rateEntry struct {
	value float64
	tm    time.Time
}

// Rate turns monotonically increasing counter fields into a per-second
// rate field, writing the result to "<field><Suffix>". A negative delta
// (counter reset or wrap) is discarded but the cache is still updated, so
// the next sample measures from the reset point rather than re-alarming.
type Rate struct {
	Fields   []string
	Suffix   string
	Factor   float64
	DeltaMin float64
	Period   time.Duration
	Retention time.Duration

	mu          sync.Mutex
	fieldSet    map[string]struct{}
	cache       map[uint64]rateEntry
	lastCleared time.Time
	initialized bool
}

func (r *Rate) init() {
	if r.initialized {
		return
	}
	r.fieldSet = make(map[string]struct{}, len(r.Fields))
	for _, f := range r.Fields {
		r.fieldSet[f] = struct{}{}
	}
	r.cache = make(map[uint64]rateEntry)
	r.lastCleared = time.Now()
	if r.Factor == 0 {
		r.Factor = 1
	}
	if r.Period <= 0 {
		r.Period = 10 * time.Minute
	}
	if r.Retention <= 0 {
		r.Retention = time.Hour
	}
	r.initialized = true
}

func cacheKey(pt point.Point, field string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(pt.Measurement))
	h.Write([]byte{0})
	h.Write([]byte(field))
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

// Apply implements Processor.
func (r *Rate) Apply(points []point.Point) []point.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()

	if time.Now().After(r.lastCleared.Add(r.Period)) {
		deleted := 0
		for k, v := range r.cache {
			if time.Now().After(v.tm.Add(r.Retention)) {
				delete(r.cache, k)
				deleted++
			}
		}
		log.WithField("deleted", deleted).Debug("rate cache cleanup")
		r.lastCleared = time.Now()
	}

	for i := range points {
		pt := points[i]
		sourceFields := make([]string, 0, len(pt.Fields))
		for field := range pt.Fields {
			sourceFields = append(sourceFields, field)
		}
		for _, field := range sourceFields {
			if _, ok := r.fieldSet[field]; !ok {
				continue
			}
			value, ok := convertNumeric(pt.Fields[field])
			if !ok {
				continue
			}
			key := cacheKey(pt, field)
			prev, known := r.cache[key]
			r.cache[key] = rateEntry{value: value, tm: pt.Timestamp}
			if !known {
				continue
			}
			delta := pt.Timestamp.Sub(prev.tm).Seconds()
			if delta <= r.DeltaMin {
				continue
			}
			rateValue := (value - prev.value) * r.Factor / delta
			if rateValue < 0 {
				continue
			}
			pt.SetField(field+r.Suffix, rateValue)
		}
		points[i] = pt
	}
	return points
}
