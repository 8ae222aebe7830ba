package parser

import (
	"regexp"
	"strings"

	"github.com/door7302/jts-collector/internal/point"
)

type regexMatch struct {
	Regex     string
	Compiled  *regexp.Regexp
	Variables []rawVariable
}

type regexSpec struct {
	Matches []regexMatch
}

func buildRegexSpec(raw rawFile) *regexSpec {
	spec := &regexSpec{}
	for _, m := range raw.Parser.Matches {
		var rm rawRegexMatch
		if err := remarshal(m, &rm); err != nil {
			log.WithError(err).Warn("unable to decode regex match, skipping")
			continue
		}
		if rm.Type != "single-value" {
			log.WithField("type", rm.Type).Warn("unsupported regex match-type, skipping")
			continue
		}
		compiled, err := regexp.Compile(rm.Regex)
		if err != nil {
			log.WithError(err).Warn("regex match does not compile, skipping")
			continue
		}
		spec.Matches = append(spec.Matches, regexMatch{
			Regex:     rm.Regex,
			Compiled:  compiled,
			Variables: rm.Variables,
		})
	}
	return spec
}

func parseRegex(p *Parser, raw []byte) ([]point.Point, error) {
	data := string(raw)
	var out []point.Point

	for _, match := range p.Regex.Matches {
		groups := match.Compiled.FindStringSubmatch(data)
		if groups == nil {
			continue
		}
		captures := groups[1:]
		if len(captures) != len(match.Variables) {
			continue
		}

		pt := point.New("")
		for i, v := range match.Variables {
			value := strings.TrimSpace(captures[i])
			if v.VariableType == "" {
				continue
			}
			fieldValue := evalVariableValue(value, v.VariableType)
			name := evalVariableName(v.VariableName)
			if v.Tag {
				if s, ok := fieldValue.(string); ok {
					pt.SetTag(name, cleanupTag(s))
				} else {
					pt.SetTag(name, cleanupTag(value))
				}
			} else {
				pt.SetField(name, fieldValue)
			}
		}
		out = append(out, pt)
	}
	return out, nil
}
