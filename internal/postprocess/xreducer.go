package postprocess

import (
	"strings"

	"github.com/door7302/jts-collector/internal/point"
)

// XReduceKey names a tag or field key whose XPath-shaped value
// ("/elem1/elem2/elem3") should be reduced to its last element
// ("elem3"). A Key of "all" reduces every tag or field on the point.
type XReduceKey struct {
	Key string
}

// XReducer shortens XPath-like tag and field keys down to their last
// path element, undoing the verbose hierarchical naming some device
// parsers emit.
type XReducer struct {
	Tags   []XReduceKey
	Fields []XReduceKey
}

func reduceKey(key string) string {
	if !strings.Contains(key, "/") {
		return key
	}
	parts := strings.Split(key, "/")
	return parts[len(parts)-1]
}

func wantsReduction(keys []XReduceKey, key string) bool {
	for _, k := range keys {
		if k.Key == "all" || k.Key == key {
			return true
		}
	}
	return false
}

// Apply implements Processor.
func (x *XReducer) Apply(points []point.Point) []point.Point {
	for i := range points {
		pt := points[i]

		if len(x.Tags) > 0 {
			reduced := make(map[string]string, len(pt.Tags))
			for k, v := range pt.Tags {
				if wantsReduction(x.Tags, k) {
					reduced[reduceKey(k)] = v
				} else {
					reduced[k] = v
				}
			}
			pt.Tags = reduced
		}

		if len(x.Fields) > 0 {
			reduced := make(map[string]interface{}, len(pt.Fields))
			for k, v := range pt.Fields {
				if wantsReduction(x.Fields, k) {
					reduced[reduceKey(k)] = v
				} else {
					reduced[k] = v
				}
			}
			pt.Fields = reduced
		}

		points[i] = pt
	}
	return points
}
