// Package emit provides the status event bus: a best-effort, in-process
// fan-out of workflow and task state transitions to any number of
// subscribers (websocket bridges, logs, traces, tests).
package emit

// Event is a status transition published on the bus. Exactly one of
// WorkflowID or TaskID is set: workflow-level events carry
// {workflow_id, status[, error]}, task-level events carry
// {task_id, task_name, status[, error, result]}.
type Event struct {
	// WorkflowID identifies the workflow for workflow-level events.
	WorkflowID string `json:"workflow_id,omitempty"`

	// TaskID and TaskName identify the task for task-level events.
	TaskID   string `json:"task_id,omitempty"`
	TaskName string `json:"task_name,omitempty"`

	// Status is the new lifecycle status.
	Status string `json:"status"`

	// Error is a short failure summary, when the transition is a
	// failure. Secret values never appear here.
	Error string `json:"error,omitempty"`

	// Result is the structured task result, on completion.
	Result map[string]any `json:"result,omitempty"`

	// Message is optional human-readable context, e.g. for a pause
	// observed mid-execution.
	Message string `json:"message,omitempty"`
}

// WorkflowEvent builds a workflow-level status event.
func WorkflowEvent(workflowID, status string) Event {
	return Event{WorkflowID: workflowID, Status: status}
}

// TaskEvent builds a task-level status event.
func TaskEvent(taskID, taskName, status string) Event {
	return Event{TaskID: taskID, TaskName: taskName, Status: status}
}

// Map renders the event as the small JSON-serializable map that goes
// over the wire. Empty fields are omitted.
func (e Event) Map() map[string]any {
	m := make(map[string]any, 6)
	if e.WorkflowID != "" {
		m["workflow_id"] = e.WorkflowID
	}
	if e.TaskID != "" {
		m["task_id"] = e.TaskID
	}
	if e.TaskName != "" {
		m["task_name"] = e.TaskName
	}
	m["status"] = e.Status
	if e.Error != "" {
		m["error"] = e.Error
	}
	if e.Result != nil {
		m["result"] = e.Result
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	return m
}
