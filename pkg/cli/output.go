package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ammar0144/sync4go"
)

// Exit codes for CLI commands
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The run failed while applying the feed
	ExitCommandError = 2 // Bad arguments, config or database connection
)

// ExitError carries the exit code a command failed with
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

// NewExitError creates an ExitError without cause
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// runReport is the JSON form of a finished run
type runReport struct {
	RunID     string         `json:"run_id"`
	Model     string         `json:"model"`
	Rows      int            `json:"rows"`
	Attempted int            `json:"attempted"`
	Executed  int            `json:"executed"`
	Skipped   int            `json:"skipped"`
	Flushes   map[string]int `json:"flushes,omitempty"`
	Duration  string         `json:"duration"`
}

func writeResult(w io.Writer, format string, res *sync4go.Result) error {
	if format == "json" {
		report := runReport{
			RunID:     res.RunID,
			Model:     res.Model,
			Rows:      res.Rows,
			Attempted: res.Stats.Attempted,
			Executed:  res.Stats.Executed,
			Skipped:   res.Stats.Skipped(),
			Duration:  res.Duration.String(),
		}
		for t, n := range res.Stats.Flushes {
			if report.Flushes == nil {
				report.Flushes = make(map[string]int)
			}
			report.Flushes[string(t)] = n
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	_, err := fmt.Fprintf(w, "synced %d rows into %s: %s (run %s, %s)\n",
		res.Rows, res.Model, res.Stats, res.RunID, res.Duration.Round(time.Millisecond))
	return err
}
