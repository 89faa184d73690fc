// Package policy provides tool authorization for the reply loop.
// It defines trust modes, the permission judge that classifies tool requests,
// and the stores that persist per-tool user decisions.
package policy

import (
	"strings"
)

// TrustMode is the operating policy controlling how much human confirmation
// is required before a tool runs.
type TrustMode string

const (
	// ModeAuto runs every tool without asking.
	ModeAuto TrustMode = "auto"

	// ModeApprove asks before every tool that is not read-only or already allowed.
	ModeApprove TrustMode = "approve"

	// ModeSmartApprove asks an LLM whether unannotated tools are read-only
	// before falling back to ModeApprove behavior.
	ModeSmartApprove TrustMode = "smart_approve"

	// ModeChat disables tool use entirely.
	ModeChat TrustMode = "chat"
)

// ParseTrustMode normalizes a configured mode. Unknown values map to ModeApprove.
func ParseTrustMode(s string) TrustMode {
	switch mode := TrustMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case ModeAuto, ModeApprove, ModeSmartApprove, ModeChat:
		return mode
	default:
		return ModeApprove
	}
}

// Valid reports whether m is one of the known modes.
func (m TrustMode) Valid() bool {
	switch m {
	case ModeAuto, ModeApprove, ModeSmartApprove, ModeChat:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (m TrustMode) String() string {
	return string(m)
}

// NormalizeTool normalizes a tool name to the key used by permission stores.
func NormalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NameSet is a set of tool names.
type NameSet map[string]struct{}

// NewNameSet builds a set from names, normalizing each entry.
func NewNameSet(names ...string) NameSet {
	set := make(NameSet, len(names))
	for _, name := range names {
		if n := NormalizeTool(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[NormalizeTool(name)]
	return ok
}

// Add inserts name into the set.
func (s NameSet) Add(name string) {
	if n := NormalizeTool(name); n != "" {
		s[n] = struct{}{}
	}
}
