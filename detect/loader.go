package detect

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/core"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed rules.schema.json
var rulesSchema []byte

// Rule file formats
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// MaxConditionDepth bounds the nesting of all/any so evaluation always terminates
const MaxConditionDepth = 32

// LoadOptions controls rule compilation
type LoadOptions struct {
	// MaxPatternLength rejects longer regex patterns; 0 means DefaultMaxPatternLength
	MaxPatternLength int
	// MatchTimeout bounds a single regex match; 0 means DefaultMatchTimeout
	MatchTimeout time.Duration
}

// Defaults for LoadOptions
const (
	DefaultMaxPatternLength = 1000
	DefaultMatchTimeout     = 100 * time.Millisecond
)

func (o LoadOptions) withDefaults() LoadOptions {
	if o.MaxPatternLength <= 0 {
		o.MaxPatternLength = DefaultMaxPatternLength
	}
	if o.MatchTimeout <= 0 {
		o.MatchTimeout = DefaultMatchTimeout
	}
	return o
}

// LoadRules reads a YAML (.yaml/.yml) or JSON rule file. Every problem with
// the file is a *core.RuleConfigError.
func LoadRules(path string, opts LoadOptions) ([]*core.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.RuleConfigError{Err: fmt.Errorf("failed to read rules file: %w", err)}
	}
	return ParseRules(data, FormatForPath(path), opts)
}

// FormatForPath picks the rule file format from the file extension
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// ParseRules validates the document against the rule schema, then builds
// and compiles the rules in document order.
func ParseRules(data []byte, format string, opts LoadOptions) ([]*core.Rule, error) {
	opts = opts.withDefaults()

	var doc interface{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		return nil, &core.RuleConfigError{Err: fmt.Errorf("unsupported rule format %q", format)}
	}
	if err != nil {
		return nil, &core.RuleConfigError{Err: fmt.Errorf("failed to decode %s rules: %w", format, err)}
	}

	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	root, _ := doc.(map[string]interface{})
	items, _ := root["rules"].([]interface{})

	rules := make([]*core.Rule, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		def, _ := item.(map[string]interface{})
		rule, err := buildRule(def, opts)
		if err != nil {
			return nil, err
		}
		if seen[rule.ID] {
			return nil, &core.RuleConfigError{RuleID: rule.ID, Err: fmt.Errorf("duplicate rule id")}
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

func validateSchema(doc interface{}) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(rulesSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &core.RuleConfigError{Err: fmt.Errorf("failed to validate rules against schema: %w", err)}
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return &core.RuleConfigError{Err: fmt.Errorf("rules validation failed: %s", strings.Join(errs, "; "))}
	}
	return nil
}

func buildRule(def map[string]interface{}, opts LoadOptions) (*core.Rule, error) {
	id := strings.TrimSpace(stringValue(def, "id"))
	if id == "" {
		return nil, &core.RuleConfigError{Err: fmt.Errorf("rule missing id")}
	}

	severity := core.Severity(stringValue(def, "severity"))
	if !severity.IsValid() {
		return nil, &core.RuleConfigError{RuleID: id, Err: fmt.Errorf("unknown severity %q", severity)}
	}

	cond, err := buildCondition(def["condition"], 1, opts)
	if err != nil {
		return nil, &core.RuleConfigError{RuleID: id, Err: err}
	}

	return &core.Rule{
		ID:          id,
		Description: stringValue(def, "description"),
		Severity:    severity,
		Condition:   cond,
	}, nil
}

// buildCondition converts one decoded node. depth is the node's level, the root being 1.
func buildCondition(node interface{}, depth int, opts LoadOptions) (core.Condition, error) {
	if depth > MaxConditionDepth {
		return nil, fmt.Errorf("condition nesting exceeds %d levels", MaxConditionDepth)
	}

	m, ok := node.(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("condition must be an object with exactly one operator")
	}

	for op, arg := range m {
		switch op {
		case "contains", "equals":
			leaf, _ := arg.(map[string]interface{})
			field := stringValue(leaf, "field")
			if field == "" {
				return nil, fmt.Errorf("%s: empty field", op)
			}
			if op == "contains" {
				return core.Contains{Field: field, Value: stringValue(leaf, "value")}, nil
			}
			return core.Equals{Field: field, Value: stringValue(leaf, "value")}, nil

		case "regex":
			leaf, _ := arg.(map[string]interface{})
			field, pattern := stringValue(leaf, "field"), stringValue(leaf, "pattern")
			if field == "" {
				return nil, fmt.Errorf("regex: empty field")
			}
			if pattern == "" {
				return nil, fmt.Errorf("regex: empty pattern")
			}
			if len(pattern) > opts.MaxPatternLength {
				return nil, fmt.Errorf("regex: pattern length %d exceeds maximum %d", len(pattern), opts.MaxPatternLength)
			}
			return core.CompileRegex(field, pattern, opts.MatchTimeout)

		case "all", "any":
			items, ok := arg.([]interface{})
			if !ok && arg != nil {
				return nil, fmt.Errorf("%s: expected a list of conditions", op)
			}
			children := make([]core.Condition, 0, len(items))
			for _, item := range items {
				child, err := buildCondition(item, depth+1, opts)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			if op == "all" {
				return core.All{Children: children}, nil
			}
			return core.Any{Children: children}, nil

		default:
			return nil, fmt.Errorf("unknown condition operator %q", op)
		}
	}
	return nil, fmt.Errorf("empty condition")
}

func stringValue(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
