package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/docscan/internal/core/domain"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec returns the raw OpenAPI document served by the API.
func Spec() []byte {
	return specYAML
}

type Validator struct {
	doc *openapi3.T
}

func NewValidator(ctx context.Context) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return &Validator{doc: doc}, nil
}

// ValidateBody checks a JSON request body against a component schema.
func (v *Validator) ValidateBody(schemaName string, raw []byte) error {
	ref, ok := v.doc.Components.Schemas[schemaName]
	if !ok || ref.Value == nil {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", err)
	}
	if err := ref.Value.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate "+schemaName, err)
	}
	return nil
}
