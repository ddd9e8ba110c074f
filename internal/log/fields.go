// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldRunID         = "run_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Scan-domain fields
	FieldFile       = "file"
	FieldVerdict    = "verdict"
	FieldIndicator  = "indicator"
	FieldConfidence = "confidence"
	FieldMode       = "mode"
	FieldPhase      = "phase"

	// Media / stream fields
	FieldCodec     = "codec"
	FieldContainer = "container"
	FieldDuration  = "duration_sec"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
