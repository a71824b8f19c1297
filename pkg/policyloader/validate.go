package policyloader

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/jsonpath"
	"github.com/openleash/openleash/pkg/pdp"
)

//go:embed policy.schema.json
var policySchemaJSON string

const policySchemaURL = "https://openleash.local/schemas/policy.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Schema returns the compiled policy JSON Schema.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(policySchemaURL, strings.NewReader(policySchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("policyloader: schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(policySchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("policyloader: schema compile failed: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// SchemaJSON returns the raw policy schema document.
func SchemaJSON() string { return policySchemaJSON }

// Validate checks a generic policy tree and returns every violation found.
// Schema violations come first, followed by semantic checks on the rules
// that are structurally sound enough to inspect.
func Validate(tree any) []contracts.FieldError {
	s, err := Schema()
	if err != nil {
		return []contracts.FieldError{{Message: err.Error()}}
	}

	var errs []contracts.FieldError
	if err := s.Validate(tree); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			errs = append(errs, flattenSchemaErrors(verr)...)
		} else {
			errs = append(errs, contracts.FieldError{Message: err.Error()})
		}
	}
	return append(errs, semanticErrors(tree)...)
}

// flattenSchemaErrors collects the leaf causes of a schema failure.
func flattenSchemaErrors(root *jsonschema.ValidationError) []contracts.FieldError {
	seen := make(map[string]bool)
	var out []contracts.FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			fe := contracts.FieldError{Field: pointerToField(e.InstanceLocation), Message: e.Message}
			key := fe.Field + "\x00" + fe.Message
			if !seen[key] {
				seen[key] = true
				out = append(out, fe)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(root)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// pointerToField renders a JSON pointer such as /rules/0/when as rules[0].when.
func pointerToField(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(tok); err == nil {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func semanticErrors(tree any) []contracts.FieldError {
	doc, ok := tree.(map[string]any)
	if !ok {
		return nil
	}
	rules, ok := doc["rules"].([]any)
	if !ok {
		return nil
	}

	var errs []contracts.FieldError
	ids := make(map[string]int)
	for i, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			continue
		}
		field := fmt.Sprintf("rules[%d]", i)
		if id, ok := rule["id"].(string); ok && id != "" {
			if first, dup := ids[id]; dup {
				errs = append(errs, contracts.FieldError{
					Field:   field + ".id",
					Message: fmt.Sprintf("duplicate rule id %q (first used by rules[%d])", id, first),
				})
			} else {
				ids[id] = i
			}
		}
		if when, ok := rule["when"]; ok {
			errs = append(errs, exprErrors(when, field+".when")...)
		}
	}
	return errs
}

func exprErrors(node any, field string) []contracts.FieldError {
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	var errs []contracts.FieldError
	for _, key := range []string{"all", "any"} {
		if list, ok := obj[key].([]any); ok {
			for i, child := range list {
				errs = append(errs, exprErrors(child, fmt.Sprintf("%s.%s[%d]", field, key, i))...)
			}
		}
	}
	if child, ok := obj["not"]; ok {
		errs = append(errs, exprErrors(child, field+".not")...)
	}
	if m, ok := obj["match"].(map[string]any); ok {
		if path, ok := m["path"].(string); ok {
			if _, err := jsonpath.Parse(path); err != nil {
				errs = append(errs, contracts.FieldError{Field: field + ".match.path", Message: err.Error()})
			}
		}
		if op, _ := m["op"].(string); op == string(contracts.OpRegex) {
			pattern, ok := m["value"].(string)
			switch {
			case !ok:
				errs = append(errs, contracts.FieldError{Field: field + ".match.value", Message: "regex value must be a string"})
			default:
				if err := pdp.ValidateRegex(pattern); err != nil {
					errs = append(errs, contracts.FieldError{Field: field + ".match.value", Message: "invalid regex: " + err.Error()})
				}
			}
		}
	}
	return errs
}
