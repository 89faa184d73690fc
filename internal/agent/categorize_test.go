package agent

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestCategorize(t *testing.T) {
	frontend := func(name string) bool { return name == "ui__confirm_dialog" }

	response := models.NewAssistantMessage().
		WithText("Let me look.").
		WithToolRequest("1", toolCall("developer__shell", `{}`)).
		WithToolRequest("2", toolCall(ToolEnableExtension, `{"extension_name":"github"}`)).
		WithToolRequest("3", toolCall("ui__confirm_dialog", `{}`)).
		WithToolRequest("4", toolCall(ToolSearchExtensions, `{}`)).
		WithToolRequest("5", toolCall(ToolReadResource, `{"uri":"x"}`)).
		WithToolRequestError("6", models.NewToolError(models.ToolErrorInvalidParameters, "bad"))

	got := Categorize(response, frontend)

	ids := func(reqs []models.ToolRequest) []string {
		var out []string
		for _, r := range reqs {
			out = append(out, r.ID)
		}
		return out
	}
	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"frontend", ids(got.Frontend), []string{"3"}},
		{"enable", ids(got.EnableExtension), []string{"2"}},
		{"search", ids(got.SearchExtension), []string{"4"}},
		{"platform", ids(got.Platform), []string{"5"}},
		{"standard", ids(got.Standard), []string{"1", "6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fmt.Sprint(tt.got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if got.Visible.HasToolRequests() {
		t.Error("visible message still carries tool requests")
	}
	if got.Visible.Text() != "Let me look." {
		t.Errorf("visible text = %q", got.Visible.Text())
	}
	if got.Visible.ID != response.ID || got.Visible.Role != models.RoleAssistant {
		t.Error("visible message lost its identity")
	}
	if len(response.ToolRequests()) != 6 {
		t.Error("input response was modified")
	}
}

func TestCategorize_NoRequests(t *testing.T) {
	got := Categorize(models.NewAssistantMessage().WithText("done"), nil)
	if got.Len() != 0 {
		t.Errorf("Len() = %d, want 0", got.Len())
	}
	if got.Visible.Text() != "done" {
		t.Errorf("visible = %q", got.Visible.Text())
	}
}

func TestCategorize_PartitionsEveryRequest(t *testing.T) {
	names := []string{
		"developer__shell", "ui__pick", ToolEnableExtension, ToolSearchExtensions,
		ToolListResources, ToolReadResource, "platform__unknown", "",
	}
	frontend := func(name string) bool { return name == "ui__pick" }
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(20)
		response := models.NewAssistantMessage()
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d-%d", trial, i)
			if name := names[rng.Intn(len(names))]; name == "" {
				response.WithToolRequestError(id, models.NewToolError(models.ToolErrorInvalidParameters, "bad"))
			} else {
				response.WithToolRequest(id, toolCall(name, `{}`))
			}
		}

		got := Categorize(response, frontend)
		if got.Len() != n {
			t.Fatalf("trial %d: Len() = %d, want %d", trial, got.Len(), n)
		}
		seen := map[string]int{}
		for _, list := range [][]models.ToolRequest{got.Frontend, got.EnableExtension, got.SearchExtension, got.Platform, got.Standard} {
			for _, r := range list {
				seen[r.ID]++
			}
		}
		for _, r := range response.ToolRequests() {
			if seen[r.ID] != 1 {
				t.Fatalf("trial %d: request %s appears %d times", trial, r.ID, seen[r.ID])
			}
		}
	}
}
