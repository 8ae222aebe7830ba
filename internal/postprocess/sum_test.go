package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/point"
)

func TestSumAddsTargetField(t *testing.T) {
	s := &Sum{Fields: []SumCompute{{Sources: []string{"in", "out"}, Target: "total"}}}
	pt := newPt("m", nil, map[string]interface{}{"in": 3, "out": 4})

	out := s.Apply([]point.Point{pt})
	require.Len(t, out, 1)
	assert.Equal(t, float64(7), out[0].Fields["total"])
}

func TestSumSkipsWhenNoSourcePresent(t *testing.T) {
	s := &Sum{Fields: []SumCompute{{Sources: []string{"missing"}, Target: "total"}}}
	pt := newPt("m", nil, map[string]interface{}{"other": 1})

	out := s.Apply([]point.Point{pt})
	require.Len(t, out, 1)
	_, ok := out[0].Fields["total"]
	assert.False(t, ok)
}
