package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/tools/policy"
)

// SystemPromptOptions holds the inputs that vary between prompt rebuilds.
type SystemPromptOptions struct {
	// Base replaces the default preamble when set.
	Base string

	// Extra lines appended after the extension sections.
	Extra []string

	Extensions []ExtensionInfo
	Mode       policy.TrustMode

	// Now stamps the prompt. Zero means time.Now().
	Now time.Time
}

const defaultPreamble = "You are a general-purpose AI agent. You can use tools provided by extensions to complete the user's request. " +
	"Use tools when they help and explain what you did in plain language."

// BuildSystemPrompt renders the system prompt for the active extensions.
func BuildSystemPrompt(opts SystemPromptOptions) string {
	lines := make([]string, 0, 8)

	preamble := strings.TrimSpace(opts.Base)
	if preamble == "" {
		preamble = defaultPreamble
	}
	lines = append(lines, preamble)

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	lines = append(lines, fmt.Sprintf("The current date is %s.", now.Format("2006-01-02")))

	infos := append([]ExtensionInfo(nil), opts.Extensions...)
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if len(infos) == 0 {
		lines = append(lines, "No extensions are currently active. Use "+ToolSearchExtensions+
			" to find extensions that could help and "+ToolEnableExtension+" to turn one on.")
	} else {
		lines = append(lines, "Active extensions:")
		for _, info := range infos {
			section := "## " + info.Name
			if instructions := strings.TrimSpace(info.Instructions); instructions != "" {
				section += "\n" + instructions
			}
			if info.HasResources {
				section += "\n" + info.Name + " provides resources. Use " + ToolListResources +
					" and " + ToolReadResource + " to access them."
			}
			lines = append(lines, section)
		}
	}

	if opts.Mode == policy.ModeChat {
		lines = append(lines, "Tool use is disabled for this conversation. Answer directly without calling tools.")
	}

	for _, extra := range opts.Extra {
		if extra = strings.TrimSpace(extra); extra != "" {
			lines = append(lines, extra)
		}
	}

	return strings.Join(lines, "\n\n")
}
