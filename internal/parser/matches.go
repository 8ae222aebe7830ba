package parser

import "gopkg.in/yaml.v2"

// remarshal round-trips a loosely-typed YAML value (as decoded into
// map[interface{}]interface{} / []interface{} by yaml.v2) into a concrete
// struct. The parser catalog's match blocks vary shape by kind, so the
// top-level loader decodes them generically and each kind-specific
// builder re-targets the shape it expects.
func remarshal(in interface{}, out interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// rawVariable describes one positional regex capture group binding.
type rawVariable struct {
	VariableName string `yaml:"variable-name"`
	VariableType string `yaml:"variable-type"`
	Tag          bool   `yaml:"tag"`
}

// rawSubMatch is one field/tag extraction inside a multi-value loop body,
// shared by the xml and json loaders.
type rawSubMatch struct {
	XPath            string                 `yaml:"xpath"`
	JMESPath         string                 `yaml:"jmespath"`
	VariableName     string                 `yaml:"variable-name"`
	VariableType     string                 `yaml:"variable-type"`
	Transform        string                 `yaml:"transform"`
	Regex            string                 `yaml:"regex"`
	Variables        []rawVariable          `yaml:"variables"`
	Enumerate        map[string]interface{} `yaml:"enumerate"`
	DefaultIfMissing interface{}            `yaml:"default-if-missing"`
}

// rawLoop is the "loop" block of a multi-value match: a fixed
// "sub-matches" list plus an open-ended tag-key -> xpath/jmespath map.
type rawLoop struct {
	SubMatches []rawSubMatch     `yaml:"sub-matches"`
	Tags       map[string]string `yaml:"-"`
}

// UnmarshalYAML captures every key of the loop block other than
// "sub-matches" as a tag-name -> match-expression pair, preserving the
// original source's "loop contains an explicit tag-key map" shape without
// requiring every tag key to be declared ahead of time.
func (l *rawLoop) UnmarshalYAML(unmarshal func(interface{}) error) error {
	raw := yaml.MapSlice{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	l.Tags = make(map[string]string)
	for _, item := range raw {
		key, ok := item.Key.(string)
		if !ok {
			continue
		}
		if key == "sub-matches" {
			if err := remarshal(item.Value, &l.SubMatches); err != nil {
				return err
			}
			continue
		}
		if s, ok := item.Value.(string); ok {
			l.Tags[key] = s
		}
	}
	return nil
}

type rawXMLMatch struct {
	Type             string      `yaml:"type"`
	XPath            string      `yaml:"xpath"`
	VariableName     string      `yaml:"variable-name"`
	DefaultIfMissing interface{} `yaml:"default-if-missing"`
	Measurement      string      `yaml:"measurement"`
	Loop             rawLoop     `yaml:"loop"`
}

type rawRegexMatch struct {
	Type      string        `yaml:"type"`
	Regex     string        `yaml:"regex"`
	Variables []rawVariable `yaml:"variables"`
}

type rawJSONMatch struct {
	Method       string                 `yaml:"method"`
	Type         string                 `yaml:"type"`
	JMESPath     string                 `yaml:"jmespath"`
	VariableName string                 `yaml:"variable-name"`
	Measurement  string                 `yaml:"measurement"`
	LoopKey      string                 `yaml:"loop-key"`
	Enumerate    map[string]interface{} `yaml:"enumerate"`
	Loop         rawLoop                `yaml:"loop"`
}
