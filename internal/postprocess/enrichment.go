package postprocess

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/door7302/jts-collector/internal/point"
)

// Enrichment adds tags looked up from an external JSON file, keyed by the
// value of a tag already present on the point (and optionally a second
// level of lookup keyed by a second tag). The file is re-read on a
// fixed refresh period, and only reloaded if its content hash changed.
type Enrichment struct {
	FilePath      string
	TwoLevels     bool
	RefreshPeriod time.Duration
	Level1TagKey  string
	Level2TagKeys []string

	mu          sync.Mutex
	table       map[string]map[string]map[string]string
	lastUpdate  time.Time
	currentHash string
	fileError   bool
	initialized bool
}

func (e *Enrichment) maybeReload() {
	if e.RefreshPeriod <= 0 {
		e.RefreshPeriod = time.Hour
	}
	if e.initialized && time.Since(e.lastUpdate) < e.RefreshPeriod {
		return
	}

	data, err := os.ReadFile(e.FilePath)
	if err != nil {
		log.WithField("file", e.FilePath).WithError(err).Error("unable to open enrichment file")
		e.fileError = true
		e.initialized = false
		return
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	if hash == e.currentHash && e.initialized {
		e.fileError = false
		e.lastUpdate = time.Now()
		return
	}

	var table map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &table); err != nil {
		log.WithField("file", e.FilePath).WithError(err).Error("unable to parse enrichment file")
		e.fileError = true
		e.initialized = false
		return
	}

	e.table = table
	e.currentHash = hash
	e.fileError = false
	e.initialized = true
	e.lastUpdate = time.Now()
}

// Apply implements Processor.
func (e *Enrichment) Apply(points []point.Point) []point.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeReload()

	if e.fileError {
		return points
	}

	for i := range points {
		pt := points[i]
		level1 := pt.Tags[e.Level1TagKey]
		if level1 == "" {
			continue
		}
		for tagKey, tagVal := range e.table[level1]["LEVEL1TAGS"] {
			pt.SetTag(tagKey, tagVal)
		}
		if e.TwoLevels {
			for _, l2key := range e.Level2TagKeys {
				level2 := pt.Tags[l2key]
				for tagKey, tagVal := range e.table[level1][level2] {
					pt.SetTag(tagKey, tagVal)
				}
			}
		}
		points[i] = pt
	}
	return points
}
