// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	updatererrors "github.com/tombee/autoupdater/pkg/errors"
)

// Exit codes for autoupdater commands
const (
	ExitSuccess       = 0
	ExitCheckFailed   = 1
	ExitInvalidConfig = 2
	ExitToolNotFound  = 3
	ExitTimeout       = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewCheckFailedError creates an error for a failed update check
func NewCheckFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCheckFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for unusable configuration
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewToolNotFoundError creates an error for a missing or non-executable maintenance tool
func NewToolNotFoundError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitToolNotFound, Message: msg, Cause: cause}
}

// NewTimeoutError creates an error for a check that outlived its deadline
func NewTimeoutError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitTimeout, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with the code it carries.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	printError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCheckFailed
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, RenderError(err.Error()))
	if s := suggestion(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

// suggestion returns the first non-empty ValidationError suggestion in err's chain.
func suggestion(err error) string {
	var validationErr *updatererrors.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Suggestion
	}
	return ""
}
