// Package point defines the uniform measurement record emitted by the
// parser registry and consumed by the sink writers.
package point

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// forbidden characters in a tag value, per the line-protocol invariant.
var tagReplacer = strings.NewReplacer(" ", "_", "=", "_", ",", "_")

// Point is one record in the line-protocol stream: a measurement name, a
// tag map, a field map and a nanosecond timestamp.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Timestamp   time.Time
}

// New builds a Point with empty tag/field maps, ready to be filled in by a
// parser.
func New(measurement string) Point {
	return Point{
		Measurement: measurement,
		Tags:        make(map[string]string),
		Fields:      make(map[string]interface{}),
	}
}

// SetTag stores a tag value after stripping characters the line-protocol
// format reserves (space, '=' and ',').
func (p Point) SetTag(key, value string) {
	p.Tags[key] = tagReplacer.Replace(value)
}

// MergeTags copies every entry of extra into the point's tag set, cleaning
// values the same way SetTag does. Existing keys are overwritten.
func (p Point) MergeTags(extra map[string]string) {
	for k, v := range extra {
		p.SetTag(k, v)
	}
}

// SetField stores a field value if it is numerically coercible; per the
// measurement-point invariant, non-numeric values are silently dropped.
func (p Point) SetField(key string, value interface{}) {
	coerced, ok := CoerceField(value)
	if !ok {
		return
	}
	p.Fields[key] = coerced
}

// CoerceField converts value to an int64 or float64 if possible. Strings
// are parsed; numeric types pass through; anything else is rejected.
func CoerceField(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return v, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, false
		}
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Line renders the point in influx line-protocol:
// measurement,tag1=v1,tag2=v2 field1=v1,field2=v2 <nanoseconds>
// The comma between the measurement and the field set is omitted when
// there are no tags.
func (p Point) Line() string {
	var b strings.Builder
	b.WriteString(p.Measurement)

	if len(p.Tags) > 0 {
		keys := make([]string, 0, len(p.Tags))
		for k := range p.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(',')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(p.Tags[k])
		}
	}

	b.WriteByte(' ')

	fkeys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		fkeys = append(fkeys, k)
	}
	sort.Strings(fkeys)
	for i, k := range fkeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatField(p.Fields[k]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Timestamp.UnixNano(), 10))

	return b.String()
}

func formatField(v interface{}) string {
	switch val := v.(type) {
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// EnvTags returns deployment tags sourced from the environment, matching
// the Nomad job metadata the original agent attaches to its stats points
// when running under a Nomad allocation.
func EnvTags() map[string]string {
	tags := make(map[string]string)
	if v := os.Getenv("NOMAD_JOB_NAME"); v != "" {
		tags["nomad_job_name"] = v
	}
	if v := os.Getenv("NOMAD_ALLOC_INDEX"); v != "" {
		tags["nomad_alloc_index"] = v
	}
	if v := os.Getenv("NOMAD_ALLOC_ID"); v != "" {
		tags["nomad_alloc_id"] = v
	}
	return tags
}

// Chunks splits points into groups of at most size, used by the HTTP sink
// to bound the number of lines per POST body.
func Chunks(points []Point, size int) [][]Point {
	if size <= 0 {
		size = 1000
	}
	var out [][]Point
	for len(points) > 0 {
		if len(points) < size {
			out = append(out, points)
			break
		}
		out = append(out, points[:size])
		points = points[size:]
	}
	return out
}
