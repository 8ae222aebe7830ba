// Package parser loads the on-disk parser catalog and dispatches raw
// device responses to the matching XML/TextFSM/regex/JSON parser.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/door7302/jts-collector/internal/point"
)

var log = logrus.WithField("component", "parser-registry")

// Kind is the parser sum type discriminator.
type Kind string

const (
	KindXML     Kind = "xml"
	KindTextFSM Kind = "textfsm"
	KindRegex   Kind = "regex"
	KindJSON    Kind = "json"
)

// kindPriority is the fixed lookup order used when a command isn't found
// by name: xml before textfsm before regex before json.
var kindPriority = []Kind{KindXML, KindTextFSM, KindRegex, KindJSON}

// Parser is one compiled parser descriptor. Only the fields relevant to
// its Kind are populated by the loader.
type Parser struct {
	Name        string
	Command     string
	IsRegex     bool
	CompiledCmd *regexp.Regexp
	Kind        Kind
	Measurement string

	XML     *xmlSpec
	TextFSM *textFSMSpec
	Regex   *regexSpec
	JSON    *jsonSpec
}

// rawFile mirrors the YAML shape of a parser definition on disk. Matches
// are decoded generically (their shape depends on the parser's kind) and
// re-targeted by each kind's builder via remarshal.
type rawFile struct {
	Parser struct {
		Type         string                   `yaml:"type"`
		Command      string                   `yaml:"command"`
		RegexCommand string                   `yaml:"regex-command"`
		Measurement  string                   `yaml:"measurement"`
		Matches      []map[string]interface{} `yaml:"matches"`
		Template     string                   `yaml:"template"`
		Fields       map[string]string        `yaml:"fields"`
		Tags         map[string]string        `yaml:"tags"`
	} `yaml:"parser"`
}

// Registry holds the immutable, post-startup parser catalog.
type Registry struct {
	parsers []*Parser
	byName  map[string]*Parser
}

var displayXMLSuffix = regexp.MustCompile(`(\s*\|\s*display\s*xml\s*)$`)

// Load walks every directory in dirs, decodes each file as a parser
// definition, classifies it by kind and returns the assembled registry.
// A file that fails to decode or is missing required fields is skipped
// with a warning; Load itself never fails for that reason.
func Load(dirs ...string) (*Registry, error) {
	reg := &Registry{byName: make(map[string]*Parser)}

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			p, ok := loadOne(path)
			if !ok {
				return nil
			}
			reg.parsers = append(reg.parsers, p)
			reg.byName[p.Name] = p
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking parser directory %s: %w", dir, err)
		}
	}

	if len(reg.parsers) == 0 {
		log.Warn("no parsers loaded")
	}
	return reg, nil
}

func loadOne(path string) (*Parser, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("file", path).Warn("unable to read parser file")
		return nil, false
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.WithError(err).WithField("file", path).Warn("parser file is not valid yaml, skipping")
		return nil, false
	}

	cmd := raw.Parser.Command
	isRegex := false
	if raw.Parser.RegexCommand != "" {
		cmd = raw.Parser.RegexCommand
		isRegex = true
	}
	if cmd == "" {
		log.WithField("file", path).Warn("parser has no command or regex-command, skipping")
		return nil, false
	}

	kind := KindXML
	if raw.Parser.Type != "" {
		switch Kind(raw.Parser.Type) {
		case KindXML, KindTextFSM, KindRegex, KindJSON:
			kind = Kind(raw.Parser.Type)
		default:
			log.WithField("file", path).WithField("type", raw.Parser.Type).Warn("unsupported parser type, skipping")
			return nil, false
		}
	}

	p := &Parser{
		Name:        path,
		Command:     cmd,
		IsRegex:     isRegex,
		Kind:        kind,
		Measurement: raw.Parser.Measurement,
	}
	if isRegex {
		compiled, err := regexp.Compile(cmd)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("regex-command does not compile, skipping")
			return nil, false
		}
		p.CompiledCmd = compiled
	}

	switch kind {
	case KindXML:
		p.XML = buildXMLSpec(raw)
	case KindTextFSM:
		p.TextFSM = buildTextFSMSpec(raw)
	case KindRegex:
		p.Regex = buildRegexSpec(raw)
	case KindJSON:
		p.JSON = buildJSONSpec(raw)
	}

	return p, true
}

// Find looks up the parser matching a given command string: first by
// stable name (file identity), then by literal/regex match against the
// command stripped of, and re-suffixed with, a trailing "| display xml".
func (r *Registry) Find(input string) (*Parser, bool) {
	if p, ok := r.byName[input]; ok {
		return p, true
	}

	var base, withXML string
	if displayXMLSuffix.MatchString(input) {
		base = displayXMLSuffix.ReplaceAllString(input, "")
		withXML = input
	} else {
		base = input
		withXML = input + " | display xml"
	}

	for _, kind := range kindPriority {
		for _, p := range r.parsers {
			if p.Kind != kind {
				continue
			}
			if p.IsRegex {
				if p.CompiledCmd.MatchString(base) || p.CompiledCmd.MatchString(withXML) {
					return p, true
				}
				continue
			}
			if p.Command == base || p.Command == withXML {
				return p, true
			}
		}
	}
	return nil, false
}

// MeasurementName returns the explicit measurement override for the
// parser matching command, or a name derived from the command string.
func (r *Registry) MeasurementName(command string) string {
	p, ok := r.Find(command)
	if ok && p.Measurement != "" {
		return p.Measurement
	}
	name := command
	if ok {
		name = p.Command
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.TrimPrefix(name, "show_")
	return name
}

// Parse routes command/raw to the parser kind's implementation and
// returns the resulting points. It never materializes more than one
// kind's worth of output at a time.
func (r *Registry) Parse(command string, raw []byte) ([]point.Point, error) {
	p, ok := r.Find(command)
	if !ok {
		return nil, ErrNoParser
	}

	var pts []point.Point
	var err error
	switch p.Kind {
	case KindXML:
		pts, err = parseXML(p, raw)
	case KindTextFSM:
		pts, err = parseTextFSM(p, raw)
	case KindRegex:
		pts, err = parseRegex(p, raw)
	case KindJSON:
		pts, err = parseJSON(p, raw)
	default:
		err = fmt.Errorf("unknown parser kind %q", p.Kind)
	}
	if err != nil {
		return nil, err
	}

	measurement := r.MeasurementName(command)
	for i := range pts {
		if pts[i].Measurement == "" {
			pts[i].Measurement = measurement
		}
	}
	return pts, nil
}

// ErrNoParser is returned by Parse when no descriptor matches the
// requested command.
var ErrNoParser = fmt.Errorf("parser: no matching parser for command")
