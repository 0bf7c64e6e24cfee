package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/contrib/community"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the backend refused or failed the operation
	ExitCommandError = 2 // bad flags, config or input
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error to the exit code of the process. Invalid input
// and signed-out use are command errors; anything else is a failure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, community.ErrInvalidInput), errors.Is(err, whyfail.ErrNotAuthenticated):
		return ExitCommandError
	}
	return ExitFailure
}

// Output writes results as text or as one JSON document per result.
type Output struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
}

// Response is the JSON envelope of every result.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Print writes data as JSON, or calls text to render it for humans.
func (o *Output) Print(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	text(o.Writer)
	return nil
}

// Event writes one streamed event: a JSON line, or the text line as is.
func (o *Output) Event(data any, line string) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(data)
	}
	_, err := fmt.Fprintln(o.Writer, line)
	return err
}

// Failure reports err in the configured format.
func (o *Output) Failure(err error) {
	if o.Format == "json" {
		_ = json.NewEncoder(o.Writer).Encode(Response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintf(o.ErrWriter, "Error: %v\n", err)
}
