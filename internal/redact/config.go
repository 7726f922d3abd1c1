package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternDef defines an operator-supplied outbound pattern, as read
// from the config file's redact.extra_patterns list.
type PatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// ExtraPattern is a compiled custom pattern ready for scanning.
type ExtraPattern struct {
	Name  string
	Type  PatternType
	Regex *regexp.Regexp
}

// CompilePatterns validates and compiles extra patterns.
func CompilePatterns(defs []PatternDef) ([]ExtraPattern, error) {
	var patterns []ExtraPattern
	for i, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		if re.MatchString("") {
			return nil, fmt.Errorf("extra_patterns[%d] %q: regex matches the empty string", i, def.Name)
		}
		patterns = append(patterns, ExtraPattern{
			Name:  def.Name,
			Type:  PatternType(strings.ToUpper(def.Name)),
			Regex: re,
		})
	}
	return patterns, nil
}
