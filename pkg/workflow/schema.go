package workflow

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

const nodeSchema = `{
  "type": "object",
  "required": ["id", "type", "data"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "type": {"type": "string", "minLength": 1},
    "position": {
      "type": "object",
      "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
    },
    "data": {
      "type": "object",
      "properties": {
        "label": {"type": "string"},
        "type": {"type": "string"},
        "params": {"type": ["object", "null"]}
      }
    }
  }
}`

const edgeSchema = `{
  "type": "object",
  "required": ["source", "target"],
  "properties": {
    "id": {"type": "string"},
    "source": {"type": "string", "minLength": 1},
    "target": {"type": "string", "minLength": 1},
    "sourceHandle": {"type": ["string", "null"]},
    "type": {"type": "string"},
    "animated": {"type": "boolean"}
  }
}`

var workflowSchema = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "nodes", "edges"],
  "properties": {
    "id": {"type": ["string", "null"]},
    "name": {"type": "string"},
    "status": {"enum": ["draft", "published"]},
    "saveStatus": {"enum": ["saved", "unsaved", "saving"]},
    "nodes": {"type": "array", "items": %s},
    "edges": {"type": "array", "items": %s}
  }
}`, nodeSchema, edgeSchema)

var exportSchema = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "edges", "version"],
  "properties": {
    "version": {"type": "string"},
    "timestamp": {"type": "string"},
    "nodes": {"type": "array", "items": %s},
    "edges": {"type": "array", "items": %s}
  }
}`, nodeSchema, edgeSchema)

var (
	workflowSchemaLoader = gojsonschema.NewStringLoader(workflowSchema)
	exportSchemaLoader   = gojsonschema.NewStringLoader(exportSchema)
)

// ValidateDocument checks persisted workflow JSON against the workflow schema.
func ValidateDocument(data []byte) error {
	return validateAgainst(workflowSchemaLoader, data)
}

// ValidateExportDocument checks export JSON against the export schema.
func ValidateExportDocument(data []byte) error {
	return validateAgainst(exportSchemaLoader, data)
}

func validateAgainst(schema gojsonschema.JSONLoader, data []byte) error {
	if len(data) == 0 {
		return &flowerrors.ValidationError{Message: "empty document"}
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &flowerrors.ValidationError{Message: fmt.Sprintf("schema validation error: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	errs := make(flowerrors.ValidationErrors, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, &flowerrors.ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return errs
}
