package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultRulesYAML []byte

// ruleFile is the layout of a YAML rule file
type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadRulesYAML decodes a rule file
func LoadRulesYAML(r io.Reader) ([]*Rule, error) {
	var file ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode rule file: %w", err)
	}
	return file.Rules, nil
}

// DefaultRules returns a fresh copy of the built-in rule set
func DefaultRules() ([]*Rule, error) {
	return LoadRulesYAML(bytes.NewReader(defaultRulesYAML))
}

// NewDefaultRuleStore returns an in-memory store seeded with DefaultRules
func NewDefaultRuleStore() (*InMemoryRuleStore, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	return NewInMemoryRuleStore(rules...)
}
