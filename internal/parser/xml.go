package parser

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/door7302/jts-collector/internal/point"
)

// xmlMatch is one compiled entry of an xml parser's "matches" list.
type xmlMatch struct {
	Type             string // single-value | multi-value
	XPath            string
	VariableName     string
	DefaultIfMissing interface{}
	Measurement      string
	Loop             *xmlLoop
}

// xmlLoop is the "loop" block of a multi-value match.
type xmlLoop struct {
	Tags       map[string]string // tag-name -> xpath
	SubMatches []xmlSubMatch
}

type xmlSubMatch struct {
	XPath            string
	VariableName     string
	VariableType     string
	Transform        string
	Regex            string
	Variables        []rawVariable
	Enumerate        map[string]interface{}
	DefaultIfMissing interface{}
}

type xmlSpec struct {
	Matches []xmlMatch
}

func buildXMLSpec(raw rawFile) *xmlSpec {
	spec := &xmlSpec{}
	for _, m := range raw.Parser.Matches {
		var rm rawXMLMatch
		if err := remarshal(m, &rm); err != nil {
			log.WithError(err).Warn("unable to decode xml match, skipping")
			continue
		}
		match := xmlMatch{
			Type:             rm.Type,
			XPath:            rm.XPath,
			VariableName:     rm.VariableName,
			DefaultIfMissing: rm.DefaultIfMissing,
			Measurement:      rm.Measurement,
		}
		if rm.Type == "multi-value" {
			loop := &xmlLoop{Tags: rm.Loop.Tags}
			for _, sm := range rm.Loop.SubMatches {
				loop.SubMatches = append(loop.SubMatches, xmlSubMatch{
					XPath:            sm.XPath,
					VariableName:     sm.VariableName,
					VariableType:     sm.VariableType,
					Transform:        sm.Transform,
					Regex:            sm.Regex,
					Variables:        sm.Variables,
					Enumerate:        sm.Enumerate,
					DefaultIfMissing: sm.DefaultIfMissing,
				})
			}
			match.Loop = loop
		}
		spec.Matches = append(spec.Matches, match)
	}
	return spec
}

// namespace stripping: drop xmlns declarations and junos:-prefixed
// attributes, and strip the junos: prefix from element names, before
// parsing, matching the cleaned document the original feeds to lxml's
// xpath engine.
var (
	xmlnsAttr   = regexp.MustCompile(`\s+xmlns(:[a-zA-Z0-9_-]+)?="[^"]*"`)
	junosAttr   = regexp.MustCompile(`\s+junos:[a-zA-Z0-9_-]+="[^"]*"`)
	junosPrefix = regexp.MustCompile(`(</?)junos:`)
)

func cleanXMLDoc(raw []byte) []byte {
	s := xmlnsAttr.ReplaceAll(raw, nil)
	s = junosAttr.ReplaceAll(s, nil)
	s = junosPrefix.ReplaceAll(s, []byte("$1"))
	return s
}

func parseXML(p *Parser, raw []byte) ([]point.Point, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(cleanXMLDoc(raw)))
	if err != nil {
		return nil, err
	}

	var out []point.Point
	for _, match := range p.XML.Matches {
		switch match.Type {
		case "single-value":
			pt, ok := xmlSingleValue(doc, match)
			if ok {
				out = append(out, pt)
			}
		case "multi-value":
			out = append(out, xmlMultiValue(doc, match)...)
		}
	}
	return out, nil
}

func xmlSingleValue(doc *xmlquery.Node, match xmlMatch) (point.Point, bool) {
	pt := point.New("")
	nodes := xmlquery.Find(doc, match.XPath)
	key := match.VariableName
	if key == "" {
		key = cleanupXPath(match.XPath)
	}

	if len(nodes) > 0 {
		value := strings.TrimSpace(nodes[0].InnerText())
		pt.SetField(key, value)
		if _, ok := pt.Fields[key]; !ok {
			return pt, false
		}
		return pt, true
	}

	if match.DefaultIfMissing != nil {
		pt.SetField(key, match.DefaultIfMissing)
		if _, ok := pt.Fields[key]; ok {
			return pt, true
		}
	}
	return pt, false
}

func xmlMultiValue(doc *xmlquery.Node, match xmlMatch) []point.Point {
	var out []point.Point
	nodes := xmlquery.Find(doc, match.XPath)
	for _, node := range nodes {
		pt := point.New(match.Measurement)

		for _, sub := range match.Loop.SubMatches {
			subNodes := xmlquery.Find(node, sub.XPath)
			if len(subNodes) == 0 {
				if sub.DefaultIfMissing != nil {
					key := subKey(sub)
					pt.SetField(key, sub.DefaultIfMissing)
				}
				continue
			}
			value := strings.TrimSpace(subNodes[0].InnerText())

			if sub.Regex != "" {
				applyXMLRegexSubMatch(pt, sub, value)
				continue
			}

			key := subKey(sub)
			if sub.Transform == "str_2_int" {
				if i, ok := str2Int(value); ok {
					pt.SetField(key, i)
				}
				continue
			}
			var fieldValue interface{} = value
			if sub.VariableType != "" {
				fieldValue = evalVariableValue(value, sub.VariableType)
			}
			if len(sub.Enumerate) > 0 {
				fieldValue, _ = applyEnumerate(value, sub.Enumerate, sub.DefaultIfMissing)
			}
			if _, exists := pt.Fields[key]; !exists {
				pt.SetField(key, fieldValue)
			}
		}

		for tag, xpath := range match.Loop.Tags {
			tagNodes := xmlquery.Find(node, xpath)
			if len(tagNodes) == 0 {
				continue
			}
			pt.SetTag(tag, strings.TrimSpace(tagNodes[0].InnerText()))
		}

		out = append(out, pt)
	}
	return out
}

func subKey(sub xmlSubMatch) string {
	if sub.VariableName != "" {
		return sub.VariableName
	}
	return cleanupXPath(sub.XPath)
}

func applyXMLRegexSubMatch(pt point.Point, sub xmlSubMatch, value string) {
	re, err := regexp.Compile(sub.Regex)
	if err != nil {
		log.WithError(err).Warn("invalid regex in xml sub-match")
		return
	}
	matches := re.FindAllString(value, -1)
	if len(matches) != len(sub.Variables) {
		return
	}
	for i, v := range sub.Variables {
		value := matches[i]
		if v.VariableType != "" {
			fieldValue := evalVariableValue(value, v.VariableType)
			pt.SetField(v.VariableName, fieldValue)
		}
	}
}
