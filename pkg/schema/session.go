// Package schema validates picking session documents against a JSON Schema
// before they are persisted. The schema is the last line of defense for the
// counter invariants; domain logic should never produce a document that
// fails it.
package schema

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.mongodb.org/mongo-driver/bson"
)

const sessionSchemaURI = "picking://schemas/session.json"

const sessionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["_id", "orderId", "orderDisplayId", "userId", "status", "items", "fulfillmentStatus", "createdAt"],
  "properties": {
    "_id": {"type": "string", "minLength": 1},
    "orderId": {"type": "string", "minLength": 1},
    "orderDisplayId": {"type": "string"},
    "userId": {"type": "string", "minLength": 1},
    "userName": {"type": "string"},
    "status": {"enum": ["in_progress", "completed", "cancelled"]},
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["lineItemId", "quantityRequired", "quantityPicked", "quantityMissing", "quantityReceived"],
        "properties": {
          "lineItemId": {"type": "string", "minLength": 1},
          "sku": {"type": "string"},
          "barcode": {"type": "string"},
          "title": {"type": "string"},
          "quantityRequired": {"type": "integer", "minimum": 0},
          "quantityPicked": {"type": "integer", "minimum": 0},
          "quantityMissing": {"type": "integer", "minimum": 0},
          "quantityReceived": {"type": "integer", "minimum": 0},
          "scanMethod": {"enum": ["barcode", "manual"]}
        }
      }
    },
    "faltanteResolution": {"enum": ["pending", "voucher", "waiting", "resolved"]},
    "fulfillmentStatus": {"enum": ["none", "pending", "submitted", "failed"]},
    "cancelReason": {"type": "string"},
    "version": {"type": "integer", "minimum": 0}
  }
}`

// SessionValidator validates session documents on their BSON wire shape
// before writes.
type SessionValidator struct {
	schema *jsonschema.Schema
}

// NewSessionValidator compiles the embedded session schema.
func NewSessionValidator() (*SessionValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(sessionSchema)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(sessionSchemaURI, doc); err != nil {
		return nil, fmt.Errorf("failed to add session schema: %w", err)
	}

	compiled, err := compiler.Compile(sessionSchemaURI)
	if err != nil {
		return nil, fmt.Errorf("failed to compile session schema: %w", err)
	}

	return &SessionValidator{schema: compiled}, nil
}

// Validate checks a document against the session schema. The document is
// rendered through relaxed extended JSON so bson-tagged structs validate on
// the same field names the database sees.
func (v *SessionValidator) Validate(doc any) error {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
