package schema

// Event types emitted on the streaming hub and recorded in the event feed.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventNodeStarted        = "node.started"
	EventNodeCompleted      = "node.completed"
	EventNodeFailed         = "node.failed"
	EventNodeSkipped        = "node.skipped"
	EventWorkflowCreated    = "workflow.created"
	EventWorkflowUpdated    = "workflow.updated"
	EventWorkflowDeleted    = "workflow.deleted"
)
