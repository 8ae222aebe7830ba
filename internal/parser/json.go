package parser

import (
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"

	"github.com/door7302/jts-collector/internal/point"
)

type jsonMatch struct {
	Type         string
	JMESPath     string
	VariableName string
	Measurement  string
	Enumerate    map[string]interface{}
	LoopKey      string
	Loop         *jsonLoop
}

type jsonLoop struct {
	Tags       map[string]string // tag-name -> jmespath
	SubMatches []jsonSubMatch
}

type jsonSubMatch struct {
	VariableName string
	JMESPath     string
	Transform    string
	Enumerate    map[string]interface{}
}

type jsonSpec struct {
	Matches []jsonMatch
}

func buildJSONSpec(raw rawFile) *jsonSpec {
	spec := &jsonSpec{}
	for _, m := range raw.Parser.Matches {
		var rm rawJSONMatch
		if err := remarshal(m, &rm); err != nil {
			log.WithError(err).Warn("unable to decode json match, skipping")
			continue
		}
		if rm.Method != "" && rm.Method != "jmespath" {
			log.WithField("method", rm.Method).Warn("unsupported json match method, skipping")
			continue
		}
		match := jsonMatch{
			Type:         rm.Type,
			JMESPath:     rm.JMESPath,
			VariableName: rm.VariableName,
			Measurement:  rm.Measurement,
			Enumerate:    rm.Enumerate,
			LoopKey:      rm.LoopKey,
		}
		if rm.Type == "multi-value" {
			loop := &jsonLoop{Tags: rm.Loop.Tags}
			for _, sm := range rm.Loop.SubMatches {
				loop.SubMatches = append(loop.SubMatches, jsonSubMatch{
					VariableName: sm.VariableName,
					JMESPath:     sm.JMESPath,
					Transform:    sm.Transform,
					Enumerate:    sm.Enumerate,
				})
			}
			match.Loop = loop
		}
		spec.Matches = append(spec.Matches, match)
	}
	return spec
}

func parseJSON(p *Parser, raw []byte) ([]point.Point, error) {
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding json payload: %w", err)
	}

	var out []point.Point
	for _, match := range p.JSON.Matches {
		switch match.Type {
		case "single-value":
			if pt, ok := jsonSingleValue(match, data); ok {
				out = append(out, pt)
			}
		case "multi-value":
			out = append(out, jsonMultiValue(match, data)...)
		}
	}
	return out, nil
}

func jsonSingleValue(match jsonMatch, data interface{}) (point.Point, bool) {
	pt := point.New(match.Measurement)
	value, err := jmespath.Search(match.JMESPath, data)
	if err != nil || value == nil || match.VariableName == "" {
		return pt, false
	}
	if len(match.Enumerate) > 0 {
		if s, ok := value.(string); ok {
			value, _ = applyEnumerate(s, match.Enumerate, nil)
		}
	}
	pt.SetField(match.VariableName, value)
	_, ok := pt.Fields[match.VariableName]
	return pt, ok
}

func jsonMultiValue(match jsonMatch, data interface{}) []point.Point {
	nodes, err := jmespath.Search(match.JMESPath, data)
	if err != nil || nodes == nil {
		return nil
	}

	var items []interface{}
	var keys []string
	switch v := nodes.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		for k, val := range v {
			keys = append(keys, k)
			items = append(items, val)
		}
	default:
		return nil
	}

	var out []point.Point
	for i, node := range items {
		pt := point.New(match.Measurement)

		for _, sm := range match.Loop.SubMatches {
			value, err := jmespath.Search(sm.JMESPath, node)
			if err != nil || value == nil {
				continue
			}
			if sm.Transform == "str_2_int" {
				if s, ok := value.(string); ok {
					if n, ok := str2Int(s); ok {
						value = n
					}
				}
			}
			if len(sm.Enumerate) > 0 {
				if s, ok := value.(string); ok {
					value, _ = applyEnumerate(s, sm.Enumerate, nil)
				}
			}
			pt.SetField(sm.VariableName, value)
		}

		if keys != nil && match.LoopKey != "" {
			pt.SetTag(match.LoopKey, keys[i])
		}

		for tag, path := range match.Loop.Tags {
			value, err := jmespath.Search(path, node)
			if err != nil || value == nil {
				continue
			}
			pt.SetTag(tag, fmt.Sprintf("%v", value))
		}

		out = append(out, pt)
	}
	return out
}
