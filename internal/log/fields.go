// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldSourceID      = "source_id"
	FieldPlugin        = "plugin"
	FieldHandlerID     = "handler_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Command fields
	FieldClass     = "class"
	FieldChannel   = "channel"
	FieldOperation = "operation"
	FieldValue     = "value"

	// Event bus fields
	FieldEventName = "event_name"
	FieldPriority  = "priority"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
