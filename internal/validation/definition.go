package validation

import "github.com/renholm/stagehand/pkg/schema"

// DefinitionValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (start/terminal/transition invariants, action kinds)
// 3. Path (cycles, terminal reachability)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewDefinitionValidator creates a DefinitionValidator.
func NewDefinitionValidator() (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and path stages are skipped.
func (dv *DefinitionValidator) Validate(def *schema.Definition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("", schema.ErrKindValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(dv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))

	// Path analysis is skipped when semantic errors make the graph unsound.
	if result.Valid() {
		result.Merge(validatePath(def))
	}

	return result
}

// ValidateDefinition returns the aggregated result as a single error.
func (dv *DefinitionValidator) ValidateDefinition(def *schema.Definition) error {
	return dv.Validate(def).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition,
// converting its error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.Definition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("", schema.ErrKindValidation, err.Error())
		return result
	}

	if fe.Details != nil {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("", schema.ErrKindValidation, v)
			}
			return result
		}
	}
	result.AddError("", schema.ErrKindValidation, fe.Message)
	return result
}
