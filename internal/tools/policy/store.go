package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/conductor/pkg/models"
)

var (
	// ErrInvalidLevel indicates an unknown permission level was supplied.
	ErrInvalidLevel = errors.New("invalid permission level")

	// ErrEmptyToolName indicates a decision was recorded without a tool name.
	ErrEmptyToolName = errors.New("tool name is required")
)

// Store persists the full tool_name -> level mapping. Implementations only
// need load-all and save-all; Manager serializes read-modify-write cycles.
type Store interface {
	Load(ctx context.Context) (map[string]models.PermissionLevel, error)
	Save(ctx context.Context, decisions map[string]models.PermissionLevel) error
}

// Decision is one persisted entry, used for listings.
type Decision struct {
	ToolName string                 `json:"tool_name" yaml:"tool_name"`
	Level    models.PermissionLevel `json:"level" yaml:"level"`
}

// Manager guards a Store so that each update is a single load-modify-store
// critical section.
type Manager struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewManager wraps store. A nil store falls back to an in-memory store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "permissions"),
	}
}

// Lookup returns the persisted level for toolName, if any.
func (m *Manager) Lookup(ctx context.Context, toolName string) (models.PermissionLevel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	decisions, err := m.store.Load(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load permissions: %w", err)
	}
	level, ok := decisions[NormalizeTool(toolName)]
	return level, ok, nil
}

// Snapshot returns a copy of every persisted decision.
func (m *Manager) Snapshot(ctx context.Context) (map[string]models.PermissionLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	decisions, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	out := make(map[string]models.PermissionLevel, len(decisions))
	for k, v := range decisions {
		out[k] = v
	}
	return out, nil
}

// Set records level for toolName.
func (m *Manager) Set(ctx context.Context, toolName string, level models.PermissionLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	key := NormalizeTool(toolName)
	if key == "" {
		return ErrEmptyToolName
	}
	return m.update(ctx, func(decisions map[string]models.PermissionLevel) bool {
		if decisions[key] == level {
			return false
		}
		decisions[key] = level
		return true
	})
}

// Remove deletes the decision for toolName. Removing an absent entry is a no-op.
func (m *Manager) Remove(ctx context.Context, toolName string) error {
	key := NormalizeTool(toolName)
	return m.update(ctx, func(decisions map[string]models.PermissionLevel) bool {
		if _, ok := decisions[key]; !ok {
			return false
		}
		delete(decisions, key)
		return true
	})
}

// Reset deletes every decision.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, map[string]models.PermissionLevel{}); err != nil {
		return fmt.Errorf("save permissions: %w", err)
	}
	m.logger.Info("permissions reset")
	return nil
}

// List returns every decision sorted by tool name.
func (m *Manager) List(ctx context.Context) ([]Decision, error) {
	decisions, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Decision, 0, len(decisions))
	for name, level := range decisions {
		out = append(out, Decision{ToolName: name, Level: level})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out, nil
}

func (m *Manager) update(ctx context.Context, modify func(map[string]models.PermissionLevel) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	decisions, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	if decisions == nil {
		decisions = make(map[string]models.PermissionLevel)
	}
	if !modify(decisions) {
		return nil
	}
	if err := m.store.Save(ctx, decisions); err != nil {
		return fmt.Errorf("save permissions: %w", err)
	}
	m.logger.Debug("permissions updated", "entries", len(decisions))
	return nil
}

// MemoryStore keeps decisions in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]models.PermissionLevel
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decisions: make(map[string]models.PermissionLevel)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (map[string]models.PermissionLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.PermissionLevel, len(s.decisions))
	for k, v := range s.decisions {
		out[k] = v
	}
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, decisions map[string]models.PermissionLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = make(map[string]models.PermissionLevel, len(decisions))
	for k, v := range decisions {
		s.decisions[k] = v
	}
	return nil
}
