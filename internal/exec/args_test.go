package exec

import (
	"errors"
	"testing"
)

func TestSanitizeArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr error
	}{
		{"plain word", "search", nil},
		{"flag allowed", "--json", nil},
		{"quoted allowed", `"foo bar"`, nil},
		{"empty", "", ErrEmptyArgument},
		{"null byte", "a\x00b", ErrArgumentNullByte},
		{"newline", "a\nb", ErrArgumentControlChar},
		{"pipe", "a|b", ErrArgumentShellMetachar},
		{"subshell", "$(whoami)", ErrArgumentShellMetachar},
		{"backtick", "`id`", ErrArgumentShellMetachar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeArgument(tt.arg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SanitizeArgument(%q) error = %v, want %v", tt.arg, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeArgumentsReportsIndex(t *testing.T) {
	_, err := SanitizeArguments([]string{"search", "foo;rm"})
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if argErr.Index != 1 {
		t.Fatalf("expected index 1, got %d", argErr.Index)
	}
	if !errors.Is(err, ErrArgumentShellMetachar) {
		t.Fatalf("expected unwrap to shell metachar error, got %v", err)
	}
}

func TestSanitizeArgumentsNil(t *testing.T) {
	out, err := SanitizeArguments(nil)
	if out != nil || err != nil {
		t.Fatalf("SanitizeArguments(nil) = %v, %v; want nil, nil", out, err)
	}
}
