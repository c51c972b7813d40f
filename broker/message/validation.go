package message

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed ack_schema.json
var ackSchema []byte

// Validator performs validation of incoming messages.
//
// ValidationError is returned to share validation issues precisely. Other
// errors mean that validation could not be completed and callers may decide
// to carry on with the original stream.
type Validator interface {
	Validate(ctx context.Context, stream []byte) ([]byte, error)
}

type ValidationError struct {
	Errors []ValidationErrorDetail
}

type ValidationErrorDetail struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("validation issues: %+v", err.Errors)
}

// Validation modes.
const (
	ValidationModeStrict   = "strict"
	ValidationModeWarnings = "warnings"
	ValidationModeDisabled = "disabled"
)

// NewValidator returns the validator that implements the given mode.
func NewValidator(mode string) (Validator, error) {
	switch mode {
	case ValidationModeDisabled:
		return &NoOpValidatorImpl{}, nil
	case ValidationModeStrict, "":
		return NewSchemaValidator(true)
	case ValidationModeWarnings:
		return NewSchemaValidator(false)
	}
	return nil, fmt.Errorf("unknown validation mode %q", mode)
}

// NoOpValidatorImpl is a no-op validator.
type NoOpValidatorImpl struct{}

var _ Validator = (*NoOpValidatorImpl)(nil)

func (v *NoOpValidatorImpl) Validate(ctx context.Context, stream []byte) ([]byte, error) {
	return stream, nil
}

// SchemaValidator validates acks against the embedded JSON schema.
//
// In non-strict mode schema issues are reported as a plain error instead of
// a ValidationError so the message is still processed.
type SchemaValidator struct {
	schema *gojsonschema.Schema
	strict bool
}

var _ Validator = (*SchemaValidator)(nil)

func NewSchemaValidator(strict bool) (*SchemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(ackSchema))
	if err != nil {
		return nil, fmt.Errorf("error loading ack schema: %v", err)
	}
	return &SchemaValidator{schema: schema, strict: strict}, nil
}

// Validate implements the Validator interface.
func (v *SchemaValidator) Validate(ctx context.Context, stream []byte) ([]byte, error) {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(stream))
	if err != nil {
		// The document could not be loaded, e.g. it is not JSON.
		return nil, ValidationError{Errors: []ValidationErrorDetail{
			{Message: err.Error(), Path: "(root)"},
		}}
	}
	if res.Valid() {
		return stream, nil
	}
	verr := ValidationError{}
	for _, issue := range res.Errors() {
		verr.Errors = append(verr.Errors, ValidationErrorDetail{
			Message: issue.Description(),
			Path:    issue.Field(),
		})
	}
	if !v.strict {
		return stream, fmt.Errorf("ignoring schema issues: %v", verr)
	}
	return nil, verr
}
