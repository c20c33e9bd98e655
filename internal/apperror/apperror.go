// Package apperror classifies failures so the CLI can map them to exit codes.
package apperror

type Code string

const (
	InvalidInput Code = "INVALID_INPUT"
	NotFound     Code = "NOT_FOUND"
	Unavailable  Code = "UNAVAILABLE"
	Internal     Code = "INTERNAL"
)

type AppError struct {
	code    Code
	message string
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

// ExitCode maps the error class to a process exit code. Invalid input exits
// with 2, matching the convention of standard argument parsers; everything
// else is a plain failure.
func (e *AppError) ExitCode() int {
	switch e.code {
	case InvalidInput:
		return 2
	default:
		return 1
	}
}
