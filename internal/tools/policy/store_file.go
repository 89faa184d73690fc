package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/conductor/pkg/models"
)

// FileStore persists decisions as a YAML document. Writes go through a temp
// file and rename so readers never observe a partial file.
type FileStore struct {
	path string
}

type permissionsFile struct {
	Permissions map[string]models.PermissionLevel `yaml:"permissions"`
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (map[string]models.PermissionLevel, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.PermissionLevel{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var file permissionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	out := make(map[string]models.PermissionLevel, len(file.Permissions))
	for name, level := range file.Permissions {
		if level.Valid() {
			out[NormalizeTool(name)] = level
		}
	}
	return out, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, decisions map[string]models.PermissionLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(permissionsFile{Permissions: decisions})
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".permissions-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
