package performance

import (
	"context"
	"errors"
	"fmt"
)

// ProcessorStage tells whether a processor error happened while the run was
// being set up or while a VU was executing.
type ProcessorStage string

const (
	StageSetup   ProcessorStage = "setup"
	StageRuntime ProcessorStage = "runtime"
)

// Error codes used for errors.<code> counters.
const (
	CodeTimeout      = "ETIMEDOUT"
	CodeRefused      = "ECONNREFUSED"
	CodeReset        = "ECONNRESET"
	CodeNotFound     = "ENOTFOUND"
	CodeCanceled     = "ECANCELED"
	CodeCapture      = "Failed capture or match"
	CodeExpectations = "Failed expectations"
)

// ScenarioError aborts a single VU. It never stops the run.
type ScenarioError struct {
	Scenario string
	// Step is the index of the failing step in the top-level flow, or -1
	Step int
	Err  error
}

func (e *ScenarioError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("scenario %q: %v", e.Scenario, e.Err)
	}
	return fmt.Sprintf("scenario %q step %d: %v", e.Scenario, e.Step, e.Err)
}

func (e *ScenarioError) Unwrap() error { return e.Err }

// ProcessorError is raised by a hook or function handler.
type ProcessorError struct {
	Stage ProcessorStage
	Name  string
	Err   error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s error in %q: %v", e.Stage, e.Name, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Fatal reports whether the error must terminate the run.
func (e *ProcessorError) Fatal() bool { return e.Stage == StageSetup }

// TransportError is a failed exchange with the target.
type TransportError struct {
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AssertionError is a failed response expectation.
type AssertionError struct {
	Kind     string
	Expected interface{}
	Actual   interface{}
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("expectation %s failed: expected %v, got %v", e.Kind, e.Expected, e.Actual)
}

// CaptureError is a strict capture that did not match.
type CaptureError struct {
	As   string
	Expr string
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %q from %q: %v", e.As, e.Expr, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ErrorCode maps an error to the code used in errors.<code> counters.
func ErrorCode(err error) string {
	var (
		te *TransportError
		ce *CaptureError
		ae *AssertionError
		pe *ProcessorError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return te.Code
	case errors.As(err, &ce):
		return CodeCapture
	case errors.As(err, &ae):
		return CodeExpectations
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.As(err, &pe):
		return pe.Err.Error()
	}
	return err.Error()
}
