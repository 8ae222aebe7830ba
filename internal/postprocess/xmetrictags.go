package postprocess

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

// XMetricTag takes a value from one point's field or tag (identified by
// the combination of its own key tags) and, once cached, attaches it as
// TagName on every later point that carries the same key tags.
type XMetricTag struct {
	TrackKey  string
	KeyTags   []string
	TagName   string
	Retention time.Duration
}

type xmetricEntry struct {
	expires time.Time
	value   string
}

// XMetricTags propagates a value carried on one metric (as a field or a
// tag) onto other metrics that share the same key tags but lack the
// field themselves — e.g. copying an aggregation interface's logical
// name onto its member links.
type XMetricTags struct {
	FieldSources []XMetricTag
	TagSources   []XMetricTag
	Period       time.Duration

	mu          sync.Mutex
	cache       map[uint64]xmetricEntry
	lastCleared time.Time
	initialized bool
}

func (x *XMetricTags) init() {
	if x.initialized {
		return
	}
	x.cache = make(map[uint64]xmetricEntry)
	if x.Period <= 0 {
		x.Period = 10 * time.Minute
	}
	x.lastCleared = time.Now()
	x.initialized = true
}

func xmetricHash(trackKey string, pt point.Point, keyTags []string) (uint64, bool) {
	h := fnv.New64a()
	h.Write([]byte(trackKey))
	for _, tag := range keyTags {
		v, ok := pt.Tags[tag]
		if !ok {
			return 0, false
		}
		h.Write([]byte(v))
	}
	return h.Sum64(), true
}

func (x *XMetricTags) cleanup() {
	if time.Now().Before(x.lastCleared.Add(x.Period)) {
		return
	}
	deleted := 0
	for k, v := range x.cache {
		if time.Now().After(v.expires) {
			delete(x.cache, k)
			deleted++
		}
	}
	log.WithField("deleted", deleted).Debug("xmetrictags cache cleanup")
	x.lastCleared = time.Now()
}

// Apply implements Processor.
func (x *XMetricTags) Apply(points []point.Point) []point.Point {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.init()
	x.cleanup()

	for i := range points {
		pt := points[i]

		for _, src := range x.FieldSources {
			retention := src.Retention
			if retention <= 0 {
				retention = time.Hour
			}
			id, ok := xmetricHash(src.TrackKey, pt, src.KeyTags)
			if !ok {
				continue
			}
			if raw, present := pt.Fields[src.TrackKey]; present {
				if s, ok := raw.(string); ok && s != "" {
					x.cache[id] = xmetricEntry{expires: time.Now().Add(retention), value: s}
					pt.SetTag(src.TagName, s)
				}
			} else if entry, cached := x.cache[id]; cached {
				pt.SetTag(src.TagName, entry.value)
			}
		}

		for _, src := range x.TagSources {
			retention := src.Retention
			if retention <= 0 {
				retention = time.Hour
			}
			id, ok := xmetricHash(src.TrackKey, pt, src.KeyTags)
			if !ok {
				continue
			}
			if v, present := pt.Tags[src.TrackKey]; present {
				if v != "" {
					x.cache[id] = xmetricEntry{expires: time.Now().Add(retention), value: v}
					pt.SetTag(src.TagName, v)
				}
			} else if entry, cached := x.cache[id]; cached {
				pt.SetTag(src.TagName, entry.value)
			}
		}

		points[i] = pt
	}
	return points
}
