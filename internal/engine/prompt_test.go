package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opencontext/ocagent/pkg/models"
)

func TestBuildPromptRolesAndPreamble(t *testing.T) {
	t.Parallel()
	msgs := []*models.Message{
		{Role: models.RoleUser, Kind: models.KindText, Content: "Hi"},
		{Role: models.RoleAssistant, Kind: models.KindText, Content: "Ok"},
		{Role: models.RoleUser, Kind: models.KindText, Content: "Now do it"},
	}

	prompt := buildPrompt(msgs, 0)
	parts := strings.Split(prompt, "\n\n")
	if len(parts) != 4 {
		t.Fatalf("prompt has %d parts, want 4: %q", len(parts), prompt)
	}
	if !strings.HasPrefix(parts[0], "SYSTEM: ") {
		t.Fatalf("prompt does not open with system preamble: %q", parts[0])
	}
	want := []string{"USER: Hi", "ASSISTANT: Ok", "USER: Now do it"}
	for i, w := range want {
		if parts[i+1] != w {
			t.Fatalf("parts[%d] = %q, want %q", i+1, parts[i+1], w)
		}
	}
}

func TestBuildPromptSkipsNonTimelineMessages(t *testing.T) {
	t.Parallel()
	msgs := []*models.Message{
		{Role: models.RoleUser, Kind: models.KindText, Content: "question"},
		{Role: models.RoleAssistant, Kind: models.KindThought, Content: "internal reasoning"},
		{Role: models.RoleTool, Kind: models.KindTool, Content: "ls\nexit: 0"},
		{Role: models.RoleAssistant, Kind: models.KindText, Content: "split part", AnchorID: "m1"},
		{Role: models.RoleAssistant, Kind: models.KindText, Content: "   "},
		{Role: models.RoleAssistant, Kind: models.KindText, Content: "answer"},
	}

	prompt := buildPrompt(msgs, 0)
	for _, excluded := range []string{"internal reasoning", "exit: 0", "split part"} {
		if strings.Contains(prompt, excluded) {
			t.Fatalf("prompt includes excluded content %q: %q", excluded, prompt)
		}
	}
	if !strings.Contains(prompt, "USER: question") || !strings.Contains(prompt, "ASSISTANT: answer") {
		t.Fatalf("prompt missing timeline text: %q", prompt)
	}
}

func TestBuildPromptWindow(t *testing.T) {
	t.Parallel()
	var msgs []*models.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, &models.Message{
			Role: models.RoleUser, Kind: models.KindText, Content: fmt.Sprintf("m%d", i),
		})
	}

	prompt := buildPrompt(msgs, 3)
	if strings.Contains(prompt, "m16\n") || strings.Contains(prompt, "USER: m0") {
		t.Fatalf("prompt includes messages outside window: %q", prompt)
	}
	for _, want := range []string{"USER: m17", "USER: m18", "USER: m19"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %q", want, prompt)
		}
	}
}

func TestBuildPromptEmptyConversation(t *testing.T) {
	t.Parallel()
	prompt := buildPrompt(nil, 0)
	if !strings.HasPrefix(prompt, "SYSTEM: ") || strings.Contains(prompt, "\n\n") {
		t.Fatalf("empty conversation prompt = %q", prompt)
	}
}
