package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/door7302/jts-collector/internal/point"
)

func newPt(measurement string, tags map[string]string, fields map[string]interface{}) point.Point {
	pt := point.New(measurement)
	pt.Timestamp = time.Now()
	pt.MergeTags(tags)
	for k, v := range fields {
		pt.SetField(k, v)
	}
	return pt
}

func TestFilteringDropsOnTagMatch(t *testing.T) {
	f := &Filtering{Tags: []Rule{{Key: "device", Pattern: "^lab-", Action: "drop"}}}
	pts := []point.Point{
		newPt("m", map[string]string{"device": "lab-r1"}, map[string]interface{}{"v": 1}),
		newPt("m", map[string]string{"device": "prod-r1"}, map[string]interface{}{"v": 1}),
	}
	out := f.Apply(pts)
	assert.Len(t, out, 1)
	assert.Equal(t, "prod-r1", out[0].Tags["device"])
}

func TestFilteringKeepRequiresMatch(t *testing.T) {
	f := &Filtering{Tags: []Rule{{Key: "device", Pattern: "^lab-", Action: "keep"}}}
	pts := []point.Point{
		newPt("m", map[string]string{"device": "lab-r1"}, nil),
		newPt("m", map[string]string{"device": "prod-r1"}, nil),
	}
	out := f.Apply(pts)
	assert.Len(t, out, 1)
	assert.Equal(t, "lab-r1", out[0].Tags["device"])
}

func TestFilteringIgnoresPointsWithoutTheKey(t *testing.T) {
	f := &Filtering{Tags: []Rule{{Key: "site", Pattern: "west", Action: "drop"}}}
	pts := []point.Point{newPt("m", map[string]string{"device": "r1"}, nil)}
	out := f.Apply(pts)
	assert.Len(t, out, 1)
}
