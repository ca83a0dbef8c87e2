package models

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports a bad or missing setting. It aborts the run before
// any planning.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PlanError reports that no track could be planned.
type PlanError struct {
	Msg string
}

func (e *PlanError) Error() string { return "plan: " + e.Msg }

// ProcessError reports a failed external tool invocation.
type ProcessError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ProcessError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Output)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ValidationError reports a produced file that violates an output invariant.
type ValidationError struct {
	Check string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation %s: %s", e.Check, e.Msg)
}

func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

func IsPlanError(err error) bool {
	var e *PlanError
	return errors.As(err, &e)
}

func IsProcessError(err error) bool {
	var e *ProcessError
	return errors.As(err, &e)
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
