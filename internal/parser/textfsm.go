package parser

import (
	"regexp"
	"strings"

	"github.com/door7302/jts-collector/internal/point"
)

// textFSMSpec holds a template-based table parser: a column->field-name
// map and a column->tag-name map. There is no third-party TextFSM
// implementation in the dependency corpus this module was grounded on
// (DESIGN.md records why this parser is standard-library only),
// so templates here are reduced to the common case the catalog actually
// uses: fixed-width/whitespace-delimited "Value NAME (regex)" declarations
// followed by a "Start" record rule built from those values in order.
type textFSMSpec struct {
	Template string
	Fields   map[string]string // column name -> output field name
	Tags     map[string]string // column name -> output tag name
	Columns  []string
	RowRegex *regexp.Regexp
}

func buildTextFSMSpec(raw rawFile) *textFSMSpec {
	spec := &textFSMSpec{
		Template: raw.Parser.Template,
		Fields:   raw.Parser.Fields,
		Tags:     raw.Parser.Tags,
	}
	spec.Columns, spec.RowRegex = compileTextFSMTemplate(raw.Parser.Template)
	return spec
}

func parseTextFSM(p *Parser, raw []byte) ([]point.Point, error) {
	spec := p.TextFSM
	if spec.RowRegex == nil {
		return nil, nil
	}

	var out []point.Point
	for _, line := range strings.Split(string(raw), "\n") {
		m := spec.RowRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		pt := point.New("")
		row := make(map[string]string, len(spec.Columns))
		for i, col := range spec.Columns {
			if i+1 < len(m) {
				row[col] = strings.TrimSpace(m[i+1])
			}
		}

		for col, fieldName := range spec.Fields {
			value, ok := row[col]
			if !ok {
				continue
			}
			if strings.ContainsAny(value, "KMG") {
				if i, ok := str2Int(value); ok {
					pt.SetField(fieldName, i)
					continue
				}
			}
			pt.SetField(fieldName, value)
		}
		for col, tagName := range spec.Tags {
			if value, ok := row[col]; ok {
				pt.SetTag(tagName, cleanupTag(value))
			}
		}
		out = append(out, pt)
	}
	return out, nil
}

var valueLineRE = regexp.MustCompile(`(?i)^\s*Value\s+(?:\S+\s+)?([A-Za-z0-9_]+)\s+\((.*)\)\s*$`)

// compileTextFSMTemplate reduces a TextFSM template's "Value NAME (regex)"
// declarations to a single combined row regex, in declaration order,
// joined by run-of-whitespace. It does not implement TextFSM's state
// machine (Start/Continue/Record rules); every line matching the combined
// pattern is treated as one record, which covers the tabular show-command
// output this catalog's templates target.
func compileTextFSMTemplate(template string) ([]string, *regexp.Regexp) {
	var columns []string
	var parts []string
	for _, line := range strings.Split(template, "\n") {
		m := valueLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		columns = append(columns, m[1])
		parts = append(parts, "("+m[2]+")")
	}
	if len(columns) == 0 {
		return nil, nil
	}
	pattern := `^\s*` + strings.Join(parts, `\s+`)
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.WithError(err).Warn("unable to compile textfsm template into a row regex")
		return nil, nil
	}
	return columns, re
}
