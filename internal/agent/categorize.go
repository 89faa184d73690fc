package agent

import (
	"github.com/haasonsaas/conductor/pkg/models"
)

// Categorized partitions the tool requests of one model response. Every
// request appears in exactly one list.
type Categorized struct {
	// Frontend requests are executed by the caller.
	Frontend []models.ToolRequest

	// EnableExtension requests ask to start an extension.
	EnableExtension []models.ToolRequest

	// SearchExtension requests list extensions that could be enabled.
	SearchExtension []models.ToolRequest

	// Platform requests are other loop-served tools such as resource access.
	Platform []models.ToolRequest

	// Standard requests go through the permission judge. Malformed requests
	// land here so the model sees the failure.
	Standard []models.ToolRequest

	// Visible is the response with all tool requests removed.
	Visible *models.Message

	// order holds request ids in response order.
	order []string
}

// Len returns the total number of categorized requests.
func (c *Categorized) Len() int {
	return len(c.Frontend) + len(c.EnableExtension) + len(c.SearchExtension) + len(c.Platform) + len(c.Standard)
}

// Categorize splits the tool requests in response by tool name. isFrontend
// may be nil. It performs no I/O and cannot fail.
func Categorize(response *models.Message, isFrontend func(string) bool) *Categorized {
	out := &Categorized{Visible: response.WithoutToolRequests()}
	for _, req := range response.ToolRequests() {
		out.order = append(out.order, req.ID)
		call, err := req.Call()
		if err != nil {
			out.Standard = append(out.Standard, req)
			continue
		}
		switch {
		case isFrontend != nil && isFrontend(call.Name):
			out.Frontend = append(out.Frontend, req)
		case call.Name == ToolEnableExtension:
			out.EnableExtension = append(out.EnableExtension, req)
		case call.Name == ToolSearchExtensions:
			out.SearchExtension = append(out.SearchExtension, req)
		case IsPlatformTool(call.Name):
			out.Platform = append(out.Platform, req)
		default:
			out.Standard = append(out.Standard, req)
		}
	}
	return out
}
