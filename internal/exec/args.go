package exec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Pattern definitions for argument validation.
var (
	// ShellMetachars matches shell metacharacters that could enable command injection.
	ShellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	// ControlChars matches control characters like newlines and carriage returns.
	ControlChars = regexp.MustCompile(`[\r\n]`)
)

// Argument validation errors.
var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

// SanitizeArgument validates a single argument and returns it if safe.
// Arguments may start with - and contain quotes; those are common in
// legitimate command arguments. Rejected: empty values, null bytes, control
// characters, and shell metacharacters ;&|`$<>.
func SanitizeArgument(arg string) (string, error) {
	if arg == "" {
		return "", ErrEmptyArgument
	}
	if strings.Contains(arg, "\x00") {
		return "", ErrArgumentNullByte
	}
	if ControlChars.MatchString(arg) {
		return "", ErrArgumentControlChar
	}
	if ShellMetachars.MatchString(arg) {
		return "", ErrArgumentShellMetachar
	}
	return arg, nil
}

// SanitizeArguments validates a slice of arguments and returns them if all
// are safe.
func SanitizeArguments(args []string) ([]string, error) {
	if args == nil {
		return nil, nil
	}
	result := make([]string, 0, len(args))
	for i, arg := range args {
		sanitized, err := SanitizeArgument(arg)
		if err != nil {
			return nil, &ArgumentError{Index: i, Arg: arg, Err: err}
		}
		result = append(result, sanitized)
	}
	return result, nil
}

// ArgumentError reports which argument failed validation.
type ArgumentError struct {
	Index int
	Arg   string
	Err   error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
