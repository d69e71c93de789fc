package rules

import (
	"fmt"
	"os"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk rule configuration. The rule list is ordered: rules
// are evaluated top to bottom and the first match wins.
type Config struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one configured rule. The memo_type/memo_format/memo_data fields
// are regular expressions over the decoded memo fields; match is an optional
// jq expression over the memo payload; classify gates the match on the
// external scoring service; response describes the transaction to submit back
// to the memo's sender when the rule matches.
type RuleSpec struct {
	Name       string        `yaml:"name"`
	MemoType   string        `yaml:"memo_type,omitempty"`
	MemoFormat string        `yaml:"memo_format,omitempty"`
	MemoData   string        `yaml:"memo_data,omitempty"`
	Match      string        `yaml:"match,omitempty"`
	Classify   *ClassifySpec `yaml:"classify,omitempty"`
	Response   *ResponseSpec `yaml:"response,omitempty"`
}

// ClassifySpec gates a rule on the classifier score of the memo payload.
type ClassifySpec struct {
	MinScore float64 `yaml:"min_score"`
}

// ResponseSpec is the response action template for a matched rule.
type ResponseSpec struct {
	Amount     string `yaml:"amount,omitempty"`
	MemoType   string `yaml:"memo_type,omitempty"`
	MemoFormat string `yaml:"memo_format,omitempty"`
	MemoData   string `yaml:"memo_data,omitempty"`
}

// LoadConfig reads and parses the YAML rule configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML rule configuration from raw bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse rules config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("rules config defines no rules")
	}
	seen := make(map[string]bool, len(c.Rules))
	for i, spec := range c.Rules {
		if spec.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate rule name %q", spec.Name)
		}
		seen[spec.Name] = true
		if spec.MemoType == "" && spec.MemoFormat == "" && spec.MemoData == "" && spec.Match == "" {
			return fmt.Errorf("rule %q has no predicate", spec.Name)
		}
	}
	return nil
}

// Build compiles the configured rules into engine rules, in config order.
// Bad regexes and jq expressions are rejected here, at startup, rather than
// during dispatch. The classifier may be nil only if no rule uses classify.
func (c *Config) Build(classifier Classifier) ([]Rule, error) {
	built := make([]Rule, 0, len(c.Rules))
	for _, spec := range c.Rules {
		rule, err := buildRule(spec, classifier)
		if err != nil {
			return nil, err
		}
		built = append(built, rule)
	}
	return built, nil
}

func buildRule(spec RuleSpec, classifier Classifier) (*PatternRule, error) {
	pattern, err := CompilePattern(spec.MemoType, spec.MemoFormat, spec.MemoData)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", spec.Name, err)
	}

	rule := &PatternRule{
		name:    spec.Name,
		pattern: pattern,
	}

	if spec.Match != "" {
		query, err := gojq.Parse(spec.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %q: failed to parse match expression: %w", spec.Name, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("rule %q: failed to compile match expression: %w", spec.Name, err)
		}
		rule.matchCode = code
	}

	if spec.Classify != nil {
		if classifier == nil {
			return nil, fmt.Errorf("rule %q uses classify but no classifier is configured", spec.Name)
		}
		rule.classifier = classifier
		rule.minScore = spec.Classify.MinScore
	}

	if spec.Response != nil {
		rule.response = &ResponseTemplate{
			Amount:     spec.Response.Amount,
			MemoType:   spec.Response.MemoType,
			MemoFormat: spec.Response.MemoFormat,
			MemoData:   spec.Response.MemoData,
		}
	}

	return rule, nil
}
