package models

// Permission is the caller's answer to a ToolConfirmationRequest.
type Permission string

const (
	PermissionAllowOnce   Permission = "allow_once"
	PermissionAlwaysAllow Permission = "always_allow"
	PermissionDeny        Permission = "deny"
)

// Allows reports whether the permission lets the call run.
func (p Permission) Allows() bool {
	return p == PermissionAllowOnce || p == PermissionAlwaysAllow
}

// PermissionConfirmation correlates a decision with the request that asked for it.
type PermissionConfirmation struct {
	RequestID  string     `json:"request_id"`
	Permission Permission `json:"permission"`
}

// PermissionLevel is a persisted per-tool decision.
type PermissionLevel string

const (
	PermissionLevelAlwaysAllow PermissionLevel = "always_allow"
	PermissionLevelAlwaysDeny  PermissionLevel = "always_deny"
)

// Valid reports whether l is a known level.
func (l PermissionLevel) Valid() bool {
	return l == PermissionLevelAlwaysAllow || l == PermissionLevelAlwaysDeny
}
