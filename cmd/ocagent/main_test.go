package main

import "testing"

func TestBuildRootCmd(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"chat": false, "sessions": false, "models": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestParseProvider(t *testing.T) {
	for _, name := range []string{"codex", "claude", "opencode"} {
		if _, err := parseProvider(name); err != nil {
			t.Errorf("parseProvider(%q) error = %v", name, err)
		}
	}
	if _, err := parseProvider("gemini"); err == nil {
		t.Error("parseProvider(gemini) expected error")
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q", got)
	}
	t.Setenv("OCAGENT_CONFIG", "/tmp/env.yaml")
	if got := resolveConfigPath(""); got != "/tmp/env.yaml" {
		t.Errorf("resolveConfigPath(env) = %q", got)
	}
}
