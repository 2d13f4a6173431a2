package engine

import (
	"reflect"
	"testing"
)

func TestExtractActionDirective(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		display string
		args    []string
		ok      bool
	}{
		{
			name:    "trailing directive",
			content: "Done.\nOC_ACTION: search foo",
			display: "Done.",
			args:    []string{"search", "foo"},
			ok:      true,
		},
		{
			name:    "directive only",
			content: "OC_ACTION: sync",
			display: "",
			args:    []string{"sync"},
			ok:      true,
		},
		{
			name:    "trailing whitespace tolerated",
			content: "Done.\nOC_ACTION: search foo  \n",
			display: "Done.",
			args:    []string{"search", "foo"},
			ok:      true,
		},
		{
			name:    "no directive",
			content: "Just a normal reply.",
			display: "Just a normal reply.",
		},
		{
			name:    "directive mid-text ignored",
			content: "OC_ACTION: search foo\nand then some more text",
			display: "OC_ACTION: search foo\nand then some more text",
		},
		{
			name:    "empty directive ignored",
			content: "Done.\nOC_ACTION:",
			display: "Done.\nOC_ACTION:",
		},
		{
			name:    "empty content",
			content: "",
			display: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			display, args, ok := extractActionDirective(tt.content)
			if ok != tt.ok {
				t.Fatalf("extractActionDirective(%q) ok = %v, want %v", tt.content, ok, tt.ok)
			}
			if display != tt.display {
				t.Fatalf("display = %q, want %q", display, tt.display)
			}
			if tt.ok && !reflect.DeepEqual(args, tt.args) {
				t.Fatalf("args = %v, want %v", args, tt.args)
			}
		})
	}
}
