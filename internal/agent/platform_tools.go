package agent

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Platform tool names. Tools with the platform prefix are handled by the
// loop itself and never reach an extension.
const (
	PlatformPrefix = "platform__"

	ToolEnableExtension  = PlatformPrefix + "enable_extension"
	ToolSearchExtensions = PlatformPrefix + "search_available_extensions"
	ToolReadResource     = PlatformPrefix + "read_resource"
	ToolListResources    = PlatformPrefix + "list_resources"
)

// IsPlatformTool reports whether name is served by the loop.
func IsPlatformTool(name string) bool {
	return strings.HasPrefix(name, PlatformPrefix)
}

// PlatformTools returns the platform tool definitions. Resource tools are only
// offered when some active extension serves resources.
func PlatformTools(withResources bool) []models.Tool {
	tools := []models.Tool{
		{
			Name: ToolSearchExtensions,
			Description: "Searches for additional extensions available to help complete tasks. " +
				"Use this when the current tools cannot accomplish the request. " +
				"Returns the name and description of every configured extension that is not enabled.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Optional filter matched against extension names and descriptions"}},"required":[]}`),
			Annotations: &models.ToolAnnotations{Title: "Discover extensions", ReadOnlyHint: true},
		},
		{
			Name: ToolEnableExtension,
			Description: "Enables an extension so its tools become available. " +
				"Use search_available_extensions first to find the extension name.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"extension_name":{"type":"string","description":"The name of the extension to enable"}},"required":["extension_name"]}`),
			Annotations: &models.ToolAnnotations{Title: "Enable extension"},
		},
	}
	if !withResources {
		return tools
	}
	return append(tools,
		models.Tool{
			Name: ToolReadResource,
			Description: "Reads a resource from an extension. Resources expose data such as files or records. " +
				"If extension_name is omitted every extension is searched for the uri.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"uri":{"type":"string","description":"Resource URI"},"extension_name":{"type":"string","description":"Optional extension name"}},"required":["uri"]}`),
			Annotations: &models.ToolAnnotations{Title: "Read a resource", ReadOnlyHint: true},
		},
		models.Tool{
			Name:        ToolListResources,
			Description: "Lists resources from an extension, or from every extension if extension_name is omitted.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"extension_name":{"type":"string","description":"Optional extension name"}},"required":[]}`),
			Annotations: &models.ToolAnnotations{Title: "List resources", ReadOnlyHint: true},
		},
	)
}
