package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// str2Int converts an engineering-notation string (K/M/G, bps/kbps/mbps/gbps
// suffixes) into an integer. It returns false when value doesn't start with
// a digit, matching the original's str_2_int contract.
func str2Int(value string) (int64, bool) {
	if !leadingDigit.MatchString(value) {
		return 0, false
	}

	lower := strings.ToLower(value)
	var multiplier float64 = 1
	switch {
	case strings.Contains(lower, "gbps"):
		lower = strings.ReplaceAll(lower, "gbps", "")
		multiplier = 1e9
	case strings.Contains(lower, "g"):
		lower = strings.ReplaceAll(lower, "g", "")
		multiplier = 1e9
	case strings.Contains(lower, "mbps"):
		lower = strings.ReplaceAll(lower, "mbps", "")
		multiplier = 1e6
	case strings.Contains(lower, "m"):
		lower = strings.ReplaceAll(lower, "m", "")
		multiplier = 1e6
	case strings.Contains(lower, "kbps"):
		lower = strings.ReplaceAll(lower, "kbps", "")
		multiplier = 1e3
	case strings.Contains(lower, "k"):
		lower = strings.ReplaceAll(lower, "k", "")
		multiplier = 1e3
	case strings.Contains(lower, "bps"):
		lower = strings.ReplaceAll(lower, "bps", "")
	}

	lower = strings.TrimSpace(lower)
	f, err := strconv.ParseFloat(lower, 64)
	if err != nil {
		return 0, false
	}
	return int64(f * multiplier), true
}

var leadingDigit = regexp.MustCompile(`^[0-9]`)

// evalVariableValue mirrors ParserManager.eval_variable_value: only
// "integer" and "string" variable-types are recognized, anything else
// passes the value through unchanged.
func evalVariableValue(value string, variableType string) interface{} {
	switch variableType {
	case "integer":
		v := value
		v = strings.ReplaceAll(v, "G", "000000000")
		v = strings.ReplaceAll(v, "M", "000000")
		v = strings.ReplaceAll(v, "K", "000")
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return value
		}
		return int64(f)
	case "string":
		return value
	default:
		return value
	}
}

// evalVariableName strips $host/$key placeholders from a regex variable
// name. The original's db_schema 1/2 branches are dead code (spec's
// eval_variable_name always falls through to schema 3); only that
// behavior is implemented here.
func evalVariableName(variable string) string {
	variable = strings.ReplaceAll(variable, "$host", "")
	variable = strings.ReplaceAll(variable, "$key", "")
	variable = strings.ReplaceAll(variable, "..", ".")
	variable = strings.TrimPrefix(variable, ".")
	return variable
}

// cleanupTag strips characters the line-protocol format reserves from a
// tag value: space, '=' and ','.
func cleanupTag(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "=", "_")
	s = strings.ReplaceAll(s, ",", "_")
	return s
}

// cleanupXPath produces a fallback field/tag name from an xpath
// expression when no explicit variable-name is given.
func cleanupXPath(xpath string) string {
	xpath = strings.ReplaceAll(xpath, "./", "")
	xpath = strings.ReplaceAll(xpath, "..", "")
	xpath = strings.ReplaceAll(xpath, "//", "")
	return xpath
}

// applyEnumerate rewrites value to its enumerated replacement if present,
// otherwise falls back to defaultIfMissing (or nil, unset, if absent).
func applyEnumerate(value string, enumerate map[string]interface{}, defaultIfMissing interface{}) (interface{}, bool) {
	for k, v := range enumerate {
		if value == k {
			return v, true
		}
	}
	if defaultIfMissing != nil {
		return defaultIfMissing, true
	}
	return nil, false
}
