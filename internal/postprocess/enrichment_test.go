package postprocess

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/door7302/jts-collector/internal/point"
)

func writeEnrichmentFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "enrich.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnrichmentAddsLevel1Tags(t *testing.T) {
	path := writeEnrichmentFile(t, `{"site1": {"LEVEL1TAGS": {"region": "west"}}}`)
	e := &Enrichment{FilePath: path, Level1TagKey: "site", RefreshPeriod: time.Hour}

	pt := newPt("m", map[string]string{"site": "site1"}, nil)
	out := e.Apply([]point.Point{pt})

	require.Len(t, out, 1)
	assert.Equal(t, "west", out[0].Tags["region"])
}

func TestEnrichmentTwoLevels(t *testing.T) {
	path := writeEnrichmentFile(t, `{"site1": {"rack1": {"row": "12"}}}`)
	e := &Enrichment{
		FilePath:      path,
		TwoLevels:     true,
		Level1TagKey:  "site",
		Level2TagKeys: []string{"rack"},
		RefreshPeriod: time.Hour,
	}

	pt := newPt("m", map[string]string{"site": "site1", "rack": "rack1"}, nil)
	out := e.Apply([]point.Point{pt})

	require.Len(t, out, 1)
	assert.Equal(t, "12", out[0].Tags["row"])
}

func TestEnrichmentMissingFileLeavesPointsUntouched(t *testing.T) {
	e := &Enrichment{FilePath: "/no/such/file.json", Level1TagKey: "site"}
	pt := newPt("m", map[string]string{"site": "site1"}, nil)

	out := e.Apply([]point.Point{pt})
	require.Len(t, out, 1)
	assert.Equal(t, "site1", out[0].Tags["site"])
}
