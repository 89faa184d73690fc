package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/internal/tools/policy"
)

func TestBuildSystemPrompt(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		opts    SystemPromptOptions
		want    []string
		notWant []string
	}{
		{
			name:    "no extensions",
			opts:    SystemPromptOptions{Now: now, Mode: policy.ModeApprove},
			want:    []string{defaultPreamble, "The current date is 2026-03-14.", "No extensions are currently active", ToolSearchExtensions},
			notWant: []string{"Active extensions:", "Tool use is disabled"},
		},
		{
			name: "extensions sorted with instructions and resources",
			opts: SystemPromptOptions{
				Now: now,
				Extensions: []ExtensionInfo{
					{Name: "memory", HasResources: true},
					{Name: "developer", Instructions: "  Prefer ripgrep.  "},
				},
			},
			want: []string{"Active extensions:", "## developer\nPrefer ripgrep.", "memory provides resources", ToolReadResource},
		},
		{
			name: "chat mode and extra lines",
			opts: SystemPromptOptions{
				Now:   now,
				Base:  "You are a release assistant.",
				Mode:  policy.ModeChat,
				Extra: []string{"Answer in English.", "   "},
			},
			want:    []string{"You are a release assistant.", "Tool use is disabled", "Answer in English."},
			notWant: []string{defaultPreamble},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSystemPrompt(tt.opts)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("prompt missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.notWant {
				if strings.Contains(got, bad) {
					t.Errorf("prompt should not contain %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestBuildSystemPrompt_SectionOrder(t *testing.T) {
	got := BuildSystemPrompt(SystemPromptOptions{
		Now:        time.Now(),
		Extensions: []ExtensionInfo{{Name: "zeta"}, {Name: "alpha"}},
	})
	if strings.Index(got, "## alpha") > strings.Index(got, "## zeta") {
		t.Errorf("extensions not sorted:\n%s", got)
	}
	if strings.HasSuffix(got, "\n") || strings.Contains(got, "\n\n\n") {
		t.Errorf("unexpected blank lines:\n%q", got)
	}
}
