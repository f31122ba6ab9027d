// Package schema validates workflow IR documents. Structural checks run
// against a JSON Schema generated from the IR shape; semantic checks cover
// chain linearity, template references, and capability contracts.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Schema represents a JSON Schema document.
type Schema struct {
	Schema               string             `json:"$schema,omitempty"`
	Title                string             `json:"title,omitempty"`
	Description          string             `json:"description,omitempty"`
	Type                 any                `json:"type,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	PropertyNames        *Schema            `json:"propertyNames,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	AdditionalProperties json.RawMessage    `json:"additionalProperties,omitempty"`
	AnyOf                []*Schema          `json:"anyOf,omitempty"`
	Default              any                `json:"default,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
}

// SetAdditionalProperties sets additionalProperties to a boolean value.
func (s *Schema) SetAdditionalProperties(v bool) *Schema {
	if v {
		s.AdditionalProperties = json.RawMessage(`true`)
	} else {
		s.AdditionalProperties = json.RawMessage(`false`)
	}
	return s
}

// SetAdditionalSchema constrains the values of unlisted properties.
func (s *Schema) SetAdditionalSchema(item *Schema) *Schema {
	data, _ := json.Marshal(item)
	s.AdditionalProperties = data
	return s
}

// IdentifierPattern matches node ids and input names. Dots are excluded so
// every id can be used as the root of a template path.
const IdentifierPattern = "^[A-Za-z_][A-Za-z0-9_-]*$"

// fieldTypes are the value types an input may declare.
var fieldTypes = []string{"string", "number", "integer", "boolean", "object", "array", "any"}

// GenerateIRSchema returns the JSON Schema for workflow IR documents.
func GenerateIRSchema() *Schema {
	one := 1

	input := (&Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"type":        {Type: "string", Enum: fieldTypes},
			"required":    {Type: "boolean"},
			"default":     {},
			"description": {Type: "string"},
		},
	}).SetAdditionalProperties(false)

	output := (&Schema{
		Type:     "object",
		Required: []string{"source"},
		Properties: map[string]*Schema{
			"source":      {Type: "string", MinLength: &one, Description: "Template naming a node output, e.g. ${node.output}"},
			"description": {Type: "string"},
			"type":        {Type: "string", Enum: fieldTypes},
		},
	}).SetAdditionalProperties(false)

	node := (&Schema{
		Type:     "object",
		Required: []string{"id", "type"},
		Properties: map[string]*Schema{
			"id":      {Type: "string", Pattern: IdentifierPattern, Description: "Unique node id"},
			"type":    {Type: "string", MinLength: &one, Description: "Capability id"},
			"purpose": {Type: "string"},
			"params":  {Type: "object"},
		},
	}).SetAdditionalProperties(false)

	edge := (&Schema{
		Type:     "object",
		Required: []string{"from", "to"},
		Properties: map[string]*Schema{
			"from": {Type: "string", MinLength: &one},
			"to":   {Type: "string", MinLength: &one},
		},
	}).SetAdditionalProperties(false)

	root := &Schema{
		Schema:      "https://json-schema.org/draft/2020-12/schema",
		Title:       "Workflow IR",
		Description: "Linear workflow of capability invocations",
		Type:        "object",
		Required:    []string{"ir_version", "nodes"},
		Properties: map[string]*Schema{
			"ir_version":  {Type: "string", MinLength: &one},
			"name":        {Type: "string"},
			"description": {Type: "string"},
			"inputs": (&Schema{
				Type:          "object",
				PropertyNames: &Schema{Pattern: IdentifierPattern},
			}).SetAdditionalSchema(input),
			"nodes": {Type: "array", MinItems: &one, Items: node},
			"edges": {Type: "array", Items: edge},
			"outputs": (&Schema{
				Type:          "object",
				PropertyNames: &Schema{Pattern: IdentifierPattern},
			}).SetAdditionalSchema(output),
		},
	}
	return root.SetAdditionalProperties(false)
}

// Compiled is a JSON Schema ready to validate decoded JSON values.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile compiles s under the given resource name.
func Compile(name string, s *Schema) (*Compiled, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema %s: marshal: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("schema %s: decode: %w", name, err)
	}
	url := "https://pflow.local/schemas/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %s: add resource: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}
	return &Compiled{schema: sch}, nil
}

var printer = message.NewPrinter(language.English)

// ValidateJSON validates raw JSON text and returns one finding per leaf
// violation.
func (c *Compiled) ValidateJSON(data []byte) ValidationErrors {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return ValidationErrors{{Code: CodeSchema, Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return c.validate(inst)
}

// ValidateValue validates a Go value by round-tripping it through JSON.
func (c *Compiled) ValidateValue(v any) ValidationErrors {
	data, err := json.Marshal(v)
	if err != nil {
		return ValidationErrors{{Code: CodeSchema, Message: fmt.Sprintf("value is not JSON encodable: %v", err)}}
	}
	return c.ValidateJSON(data)
}

func (c *Compiled) validate(inst any) ValidationErrors {
	err := c.schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return ValidationErrors{{Code: CodeSchema, Message: err.Error()}}
	}
	var out ValidationErrors
	collectLeaves(ve, &out)
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *ValidationErrors) {
	if len(ve.Causes) == 0 {
		*out = append(*out, &ValidationError{
			Code:    CodeSchema,
			Path:    instancePath(ve.InstanceLocation),
			Message: ve.ErrorKind.LocalizedString(printer),
		})
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// instancePath renders a JSON pointer location as nodes[1].params.file_path.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

var (
	irOnce     sync.Once
	irCompiled *Compiled
	irErr      error
)

// irSchema returns the compiled IR schema.
func irSchema() (*Compiled, error) {
	irOnce.Do(func() {
		irCompiled, irErr = Compile("workflow-ir", GenerateIRSchema())
	})
	return irCompiled, irErr
}
