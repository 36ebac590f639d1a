package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/mentat-ai/mentat/pkg/errors"
)

// CLIError is a MentatError with a hint for the terminal user.
type CLIError struct {
	*errors.MentatError
	Hint string
}

// NewCLIError attaches hint to me.
func NewCLIError(me *errors.MentatError, hint string) *CLIError {
	return &CLIError{MentatError: me, Hint: hint}
}

func (e *CLIError) Error() string {
	if e.MentatError == nil {
		return "unknown error"
	}
	msg := e.MentatError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	return e.MentatError
}

// NewInvalidArgumentError reports bad command line usage.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	me := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg)
	return NewCLIError(me, "run 'mentat help' for usage information")
}

// NewConfigError reports a configuration that failed to load or validate.
func NewConfigError(err error, configPath string) *CLIError {
	me := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check the MENTAT_* environment and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(me, hint)
}

func printError(w io.Writer, err error) {
	var ce *CLIError
	if stderrors.As(err, &ce) && ce.MentatError != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n", ce.Code, ce.Message)
		if ce.Err != nil {
			fmt.Fprintf(w, "  Cause: %v\n", ce.Err)
		}
		if ce.Hint != "" {
			fmt.Fprintf(w, "  Hint: %s\n", ce.Hint)
		}
		return
	}
	if me := errors.AsMentatError(err); me != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n", me.Code, me.Message)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
