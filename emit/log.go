package emit

import "go.uber.org/zap"

// LogEmitter writes every status event to a structured logger. It is
// the default observability sink when no tracing backend is wired.
type LogEmitter struct {
	log *zap.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger logs nowhere.
func NewLogEmitter(log *zap.Logger) *LogEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogEmitter{log: log}
}

// Emit logs the event at info level with one field per populated
// attribute. Results are logged by size only; payload contents stay out
// of the log stream.
func (l *LogEmitter) Emit(event Event) {
	fields := make([]zap.Field, 0, 6)
	if event.WorkflowID != "" {
		fields = append(fields, zap.String("workflow_id", event.WorkflowID))
	}
	if event.TaskID != "" {
		fields = append(fields, zap.String("task_id", event.TaskID))
	}
	if event.TaskName != "" {
		fields = append(fields, zap.String("task_name", event.TaskName))
	}
	fields = append(fields, zap.String("status", event.Status))
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if event.Result != nil {
		fields = append(fields, zap.Int("result_fields", len(event.Result)))
	}
	l.log.Info("status event", fields...)
}
