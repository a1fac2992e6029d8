package interpret

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Zikki-Qing/tabmend/internal/transform"
)

// Plan is the persisted compilation artifact: the operation list plus the
// target columns it was compiled for. Stored as JSON on the job record so a
// worker executes exactly what was validated at submission.
type Plan struct {
	TargetColumns []string               `json:"target_columns,omitempty"`
	Operations    []*transform.Operation `json:"operations"`
}

// planSchema constrains what a stored plan may contain. Validation runs on
// encode and decode so a corrupted artifact is caught before execution.
const planSchema = `{
  "type": "object",
  "required": ["operations"],
  "properties": {
    "target_columns": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "operations": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind", "replacement"],
        "properties": {
          "kind": {
            "enum": ["replace_exact", "replace_fold", "replace_pattern", "normalize", "fill_empty"]
          },
          "columns": {"type": "array", "items": {"type": "string"}},
          "match": {"type": "string"},
          "pattern": {"type": "string"},
          "mode": {"enum": ["space", "upper", "lower", "title"]},
          "replacement": {"type": "string"},
          "first_match_only": {"type": "boolean"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledPlanSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", bytes.NewReader([]byte(planSchema))); err != nil {
		panic(fmt.Sprintf("add plan schema: %v", err))
	}
	return compiler.MustCompile("plan.json")
}

// EncodePlan serializes and validates a plan.
func EncodePlan(p *Plan) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	if err := validatePlanJSON(b); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodePlan validates and deserializes a stored plan.
func DecodePlan(b []byte) (*Plan, error) {
	if err := validatePlanJSON(b); err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &p, nil
}

func validatePlanJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if err := compiledPlanSchema.Validate(v); err != nil {
		return fmt.Errorf("plan does not match schema: %w", err)
	}
	return nil
}
