package operation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks inputs against the compiled catalog schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every catalog schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(catalog))}
	for name, spec := range catalog {
		url := "repogate://schemas/" + name + ".json"
		if err := c.AddResource(url, bytes.NewReader(spec.Schema)); err != nil {
			return nil, fmt.Errorf("operation: add schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("operation: compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// InputError describes the first schema violation found in an input.
type InputError struct {
	Location string
	Problem  string
}

func (e *InputError) Error() string {
	if e.Location == "" {
		return "invalid input: " + e.Problem
	}
	return "invalid input at " + e.Location + ": " + e.Problem
}

// Validate checks inputs for the named operation. Unknown operations
// are not an input error; the policy rejects them.
func (v *Validator) Validate(name string, inputs map[string]any) error {
	s, ok := v.schemas[name]
	if !ok {
		return nil
	}
	// The schema library only understands JSON-decoded values.
	if inputs == nil {
		inputs = map[string]any{}
	}
	err := s.Validate(inputs)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &InputError{Problem: "schema validation failed"}
	}
	leaf := firstLeaf(ve)
	return &InputError{Location: leaf.InstanceLocation, Problem: leaf.Message}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
