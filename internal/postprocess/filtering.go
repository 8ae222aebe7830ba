package postprocess

import (
	"fmt"
	"regexp"

	"github.com/door7302/jts-collector/internal/point"
)

// Rule matches a tag or field by key against a regex pattern and either
// keeps or drops the point on a match.
type Rule struct {
	Key     string
	Pattern string
	Action  string // "keep" or "drop"
}

// Filtering drops or keeps whole points based on tag/field regex rules.
// A point is dropped as soon as one rule's action says so; the rules run
// in order, tag rules before field rules.
type Filtering struct {
	Tags   []Rule
	Fields []Rule

	regexCache map[string]*regexp.Regexp
}

func (f *Filtering) checkRegex(pattern, value string) bool {
	if f.regexCache == nil {
		f.regexCache = make(map[string]*regexp.Regexp)
	}
	re, ok := f.regexCache[pattern]
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			log.WithField("pattern", pattern).WithError(err).Error("invalid filtering pattern, treating as non-match")
			compiled = regexp.MustCompile(`$^`)
		}
		f.regexCache[pattern] = compiled
		re = compiled
	}
	return re.MatchString(value)
}

// Apply implements Processor.
func (f *Filtering) Apply(points []point.Point) []point.Point {
	out := make([]point.Point, 0, len(points))
points:
	for _, pt := range points {
		for _, rule := range f.Tags {
			value, ok := pt.Tags[rule.Key]
			if !ok {
				continue
			}
			matched := f.checkRegex(rule.Pattern, value)
			if rule.Action == "drop" && matched {
				continue points
			}
			if rule.Action == "keep" && !matched {
				continue points
			}
		}
		for _, rule := range f.Fields {
			field, ok := pt.Fields[rule.Key]
			if !ok {
				continue
			}
			value := formatFieldForMatch(field)
			matched := f.checkRegex(rule.Pattern, value)
			if rule.Action == "drop" && matched {
				continue points
			}
			if rule.Action == "keep" && !matched {
				continue points
			}
		}
		out = append(out, pt)
	}
	return out
}

func formatFieldForMatch(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
