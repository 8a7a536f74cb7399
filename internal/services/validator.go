package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names expected in the schemas directory.
const (
	SchemaListing     = "listing.v1"
	SchemaEscrowTerms = "escrow_terms.v1"
)

// Validator compiles the JSON Schemas in a directory and validates request
// payloads against them by name. Listing creation is a hard reject; the
// escrow-terms draft is validated before the proposal reaches the state
// machine.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator loads all *.json files from schemaDir; each file's base name
// (without extension) becomes the schema name.
func NewValidator(schemaDir string) (*Validator, error) {
	entries, err := os.ReadDir(schemaDir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", schemaDir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		path := filepath.Join(schemaDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		id := "https://aibazaar.dev/schemas/" + name
		schema, err := jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", name, err)
		}
		schemas[name] = schema
	}
	return &Validator{schemas: schemas}, nil
}

// Validate checks doc against the named schema. Schema violations wrap
// ErrValidation.
func (v *Validator) Validate(name string, doc json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var parsed interface{}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
