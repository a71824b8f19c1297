// Package policyloader turns policy YAML into validated contracts.Policy
// values.
//
// Parsing and validation are separate steps. ParseYAML only decodes YAML
// into a generic JSON tree; Validate checks that tree against the policy
// JSON Schema plus the semantic rules the schema cannot express (unique rule
// ids, well-formed paths, compilable regex patterns) and returns every
// violation; Decode builds the typed policy. Load runs all three.
package policyloader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openleash/openleash/pkg/contracts"
)

// ParseYAML decodes a YAML document into a generic JSON tree
// (map[string]any, []any, json.Number, string, bool, nil).
func ParseYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policyloader: parse yaml: %w", err)
	}
	normalized, err := normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("policyloader: parse yaml: %w", err)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("policyloader: parse yaml: %w", err)
	}
	return decodeJSONTree(b)
}

// ParseJSON decodes a JSON policy document into the same generic tree.
func ParseJSON(data []byte) (any, error) {
	tree, err := decodeJSONTree(data)
	if err != nil {
		return nil, fmt.Errorf("policyloader: parse json: %w", err)
	}
	return tree, nil
}

func decodeJSONTree(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// normalize rewrites YAML-specific shapes into JSON-compatible ones. Mapping
// keys must be strings.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("mapping key %v is not a string", k)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return v, nil
}

// Decode converts a validated tree into a typed policy.
func Decode(tree any) (*contracts.Policy, error) {
	b, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("policyloader: decode: %w", err)
	}
	var p contracts.Policy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("policyloader: decode: %w", err)
	}
	if p.Rules == nil {
		p.Rules = []contracts.PolicyRule{}
	}
	return &p, nil
}

// Load parses, validates and decodes a YAML policy. Validation failures are
// returned as *contracts.ValidationError listing every violation.
func Load(data []byte) (*contracts.Policy, error) {
	tree, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if errs := Validate(tree); len(errs) > 0 {
		return nil, &contracts.ValidationError{Subject: "policy", Errors: errs}
	}
	return Decode(tree)
}

// ValidateYAML reports every problem with a YAML policy without decoding
// it. A YAML syntax error is reported as a single entry.
func ValidateYAML(data []byte) []contracts.FieldError {
	tree, err := ParseYAML(data)
	if err != nil {
		return []contracts.FieldError{{Message: err.Error()}}
	}
	return Validate(tree)
}
