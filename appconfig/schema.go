package appconfig

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "uid": {"type": "string", "minLength": 1},
    "endpoint": {
      "type": "object",
      "required": ["uid", "name"],
      "properties": {"uid": {"$ref": "#/definitions/uid"}, "name": {"type": "string", "minLength": 1}}
    },
    "binding": {
      "type": "object",
      "required": ["key", "uid"],
      "properties": {
        "key": {"type": "string", "minLength": 1},
        "uid": {"$ref": "#/definitions/uid"},
        "optional": {"type": "boolean"},
        "access": {"type": "string"}
      }
    },
    "bindings": {"type": "array", "items": {"$ref": "#/definitions/binding"}},
    "connection": {
      "type": "object",
      "required": ["channel"],
      "properties": {
        "channel": {"type": "string", "minLength": 1},
        "signal": {"$ref": "#/definitions/endpoint"},
        "signals": {"type": "array", "items": {"$ref": "#/definitions/endpoint"}},
        "slot": {"$ref": "#/definitions/endpoint"},
        "slots": {"type": "array", "items": {"$ref": "#/definitions/endpoint"}}
      }
    }
  },
  "properties": {
    "id": {"type": "string"},
    "parameters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["replace"],
        "properties": {"replace": {"type": "string", "minLength": 1}, "default": {"type": "string"}}
      }
    },
    "objects": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["uid", "type"],
        "properties": {
          "uid": {"$ref": "#/definitions/uid"},
          "type": {"type": "string", "minLength": 1},
          "mode": {"enum": ["new", "existing", "deferred"]}
        }
      }
    },
    "services": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "uid": {"$ref": "#/definitions/uid"},
          "type": {"type": "string", "minLength": 1},
          "worker": {"type": "string"},
          "in": {"$ref": "#/definitions/bindings"},
          "inout": {"$ref": "#/definitions/bindings"},
          "out": {"$ref": "#/definitions/bindings"},
          "bindings": {"$ref": "#/definitions/bindings"}
        }
      }
    },
    "connections": {"type": "array", "items": {"$ref": "#/definitions/connection"}},
    "connect": {"type": "array", "items": {"$ref": "#/definitions/connection"}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// validateSchema checks the structural shape of a decoded configuration tree.
func validateSchema(doc any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
