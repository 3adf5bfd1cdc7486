package schema

import "fmt"

// IssueSeverity indicates whether a validation issue is an error or warning.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue kinds emitted by the validator.
const (
	IssueShape         = "shape"
	IssueEmptyWorkflow = "empty_workflow"
	IssueDuplicateID   = "duplicate_node_id"
	IssueUnknownRef    = "unknown_edge_ref"
	IssueNoInputNode   = "no_input_node"
	IssueNoOutputNode  = "no_output_node"
	IssueOrphanNode    = "orphan_node"
	IssueCycle         = "cycle"
)

// Issue is a single validation problem, optionally pinned to a node.
type Issue struct {
	Kind     string        `json:"kind"`
	NodeID   string        `json:"node_id,omitempty"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found in a workflow.
type ValidationResult struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(kind, nodeID, message string) {
	r.Errors = append(r.Errors, Issue{
		Kind: kind, NodeID: nodeID, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(kind, nodeID, message string) {
	r.Warnings = append(r.Warnings, Issue{
		Kind: kind, NodeID: nodeID, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a FlowError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
