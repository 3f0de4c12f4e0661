package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/qualityhub/issueflow/internal/types"
)

// Exit codes
const (
	exitFailure     = 1
	exitClientError = 2
	exitConflict    = 3
)

// exitCode maps an error to the process exit status: client errors
// (invalid argument, not found, unauthorized) exit 2, concurrent
// modifications 3, anything else 1.
func exitCode(err error) int {
	switch {
	case errors.Is(err, types.ErrConflict):
		return exitConflict
	case types.IsClientError(err):
		return exitClientError
	default:
		return exitFailure
	}
}

// reportError writes err to w, as JSON under --json, and returns its exit code.
func reportError(w io.Writer, err error) int {
	code := exitCode(err)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"error": err.Error(), "code": code})
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return code
}

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
