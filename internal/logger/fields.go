package logger

// Standard field names for consistent structured logging.
const (
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldBackend   = "backend"
	FieldProject   = "project"
	FieldPath      = "path"
	FieldSeq       = "seq"
	FieldCount     = "count"
	FieldPending   = "pending"
	FieldClock     = "clock"
	FieldNode      = "node"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)
