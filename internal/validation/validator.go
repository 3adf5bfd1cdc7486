// Package validation checks workflow graphs before execution: document
// shape, cross-node rules, and cycle detection.
package validation

import (
	"errors"

	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// Validator is the contract the service and engine gate executions on.
type Validator interface {
	Validate(wf *schema.Workflow) *schema.ValidationResult
	ValidateDocument(wf *schema.Workflow) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// WorkflowValidator runs the full rule set. Unlike a staged pipeline, every
// rule is evaluated on every call: a failing rule contributes its issue and
// the rest still run, so callers see the complete picture in one pass. The
// validator holds no per-workflow state; validating the same workflow twice
// yields identical results.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv}, nil
}

// Validate applies all rules and returns the aggregated result.
// Valid() is true iff no rule produced an error; warnings never affect it.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf == nil {
		result.AddError(schema.IssueShape, "", "workflow is nil")
		return result
	}

	g := graph.Build(wf.Nodes, wf.Edges)

	result.Merge(wv.validateStructure(wf))
	result.Merge(validateSemantic(wf, g))
	result.Merge(validateDAG(g))

	return result
}

// validateStructure runs the JSON-schema pass and folds each violation into
// the aggregated result.
func (wv *WorkflowValidator) validateStructure(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := wv.jsonSchema.ValidateDocument(wf)
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError(schema.IssueShape, "", v)
			}
			return result
		}
	}
	result.AddError(schema.IssueShape, "", err.Error())
	return result
}

// ValidateDocument checks a raw workflow document against the JSON Schema.
// Used on import paths where the document has not been through typed decoding.
func (wv *WorkflowValidator) ValidateDocument(wf *schema.Workflow) error {
	return wv.jsonSchema.ValidateDocument(wf)
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}
