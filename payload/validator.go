package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalid is returned when a payload does not match its schema.
var ErrInvalid = errors.New("payload: invalid")

// Schema is the JSON Schema of the canonical payload. Filters may add
// fields but must keep the fixed shape intact.
const Schema = `{
  "type": "object",
  "required": ["event", "event_id", "booking_id", "status_id", "customer", "booking", "vehicle", "invoice"],
  "properties": {
    "event":      {"type": "string", "minLength": 1},
    "event_id":   {"type": "string", "minLength": 1},
    "booking_id": {"type": "integer"},
    "status_id":  {"type": "integer"},
    "customer": {
      "type": "object",
      "required": ["name", "email", "phone"],
      "properties": {
        "name":  {"type": "string"},
        "email": {"type": "string"},
        "phone": {"type": "string"}
      }
    },
    "booking": {
      "type": "object",
      "required": ["pickup_datetime", "return_datetime", "pickup_location", "return_location"]
    },
    "vehicle": {
      "type": "object",
      "required": ["id", "name"]
    },
    "invoice": {
      "type": "object",
      "required": ["currency", "line_items", "notes"],
      "properties": {
        "currency": {"type": "string", "minLength": 1},
        "line_items": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["name", "qty", "rate"],
            "properties": {
              "name": {"type": "string"},
              "qty":  {"type": "integer", "minimum": 1},
              "rate": {"type": "number"}
            }
          }
        }
      }
    }
  }
}`

const schemaURL = "flowbridge://schema/payload.json"

// Validator checks built payloads against Schema.
type Validator struct {
	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewValidator returns a Validator. The schema is compiled on first use.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns an error wrapping ErrInvalid when p does not conform.
func (v *Validator) Validate(p *Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalid)
	}

	schema, err := v.compile()
	if err != nil {
		return fmt.Errorf("payload: schema compilation error: %w", err)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payload: marshal: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("payload: unmarshal: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (v *Validator) compile() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(Schema), &doc); err != nil {
			v.err = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			v.err = fmt.Errorf("add schema resource: %w", err)
			return
		}
		v.compiled, v.err = c.Compile(schemaURL)
	})
	return v.compiled, v.err
}
