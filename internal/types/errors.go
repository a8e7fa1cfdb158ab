package types

import (
	"errors"
	"fmt"
)

// Kind classifies a grading error for step outcomes and client reporting.
type Kind string

const (
	KindConfigMissing        Kind = "config_missing"
	KindTemplateUnknown      Kind = "template_unknown"
	KindTreeMalformed        Kind = "tree_malformed"
	KindPreflightMissingFile Kind = "preflight_missing_file"
	KindPreflightSetupFailed Kind = "preflight_setup_failed"
	KindSandboxUnavailable   Kind = "sandbox_unavailable"
	KindSandboxMisconfigured Kind = "sandbox_misconfigured"
	KindExecTimeout          Kind = "exec_timeout"
	KindTestInfrastructure   Kind = "test_infrastructure"
	KindFeedbackFailed       Kind = "feedback_failed"
	KindExportFailed         Kind = "export_failed"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal_error"
)

// Error is the typed grading error carried through step results and persisted
// in the pipeline trace. Details hold structured context such as exit codes
// and captured output.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E constructs a typed error.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from an error chain, or KindInternal if the error
// is untyped.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// AsError converts any error into a typed *Error, wrapping untyped errors as
// KindInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
