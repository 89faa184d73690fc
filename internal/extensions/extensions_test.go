package extensions

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "stdio", cfg: Config{Name: "developer", Kind: KindStdio, Command: "developer-mcp"}},
		{name: "http", cfg: Config{Name: "github", Kind: KindStreamableHTTP, URL: "https://mcp.example.com"}},
		{name: "sse", cfg: Config{Name: "Git Hub", Kind: KindSSE, URL: "http://localhost:8080/sse"}},
		{name: "frontend", cfg: Config{Name: "ui", Kind: KindFrontend, Tools: []FrontendTool{{Name: "pick_file"}}}},
		{name: "missing name", cfg: Config{Kind: KindStdio, Command: "x"}, wantErr: "name is required"},
		{name: "missing cmd", cfg: Config{Name: "a", Kind: KindStdio}, wantErr: "cmd is required"},
		{name: "traversal", cfg: Config{Name: "a", Kind: KindStdio, Command: "../../bin/sh"}, wantErr: "path traversal"},
		{name: "metachars", cfg: Config{Name: "a", Kind: KindStdio, Command: "x", Args: []string{"foo; rm -rf /"}}, wantErr: "metacharacters"},
		{name: "bad scheme", cfg: Config{Name: "a", Kind: KindSSE, URL: "ftp://host"}, wantErr: "http://"},
		{name: "frontend without tools", cfg: Config{Name: "ui", Kind: KindFrontend}, wantErr: "declares no tools"},
		{name: "unknown kind", cfg: Config{Name: "a", Kind: "carrier-pigeon"}, wantErr: "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Developer":     "developer",
		" Git Hub ":     "git_hub",
		"my.ext/v2":     "my_ext_v2",
		"already_fine-": "already_fine-",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistry_SearchExcludesActive(t *testing.T) {
	r, err := NewRegistry(
		Config{Name: "developer", Kind: KindStdio, Command: "dev", Description: "Shell and file editing"},
		Config{Name: "github", Kind: KindStreamableHTTP, URL: "https://gh.example.com", Description: "Issues and pull requests"},
		Config{Name: "memory", Kind: KindStdio, Command: "mem", Description: "Remembers facts"},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	names := func(cfgs []Config) string {
		var out []string
		for _, c := range cfgs {
			out = append(out, c.Name)
		}
		return strings.Join(out, ",")
	}

	if got := names(r.Search([]string{"Developer"}, "")); got != "github,memory" {
		t.Errorf("Search(active) = %s", got)
	}
	if got := names(r.Search(nil, "pull")); got != "github" {
		t.Errorf("Search(query) = %s", got)
	}
	if got := names(r.Search([]string{"developer", "github", "memory"}, "")); got != "" {
		t.Errorf("Search(all active) = %s", got)
	}
}

func TestRegistry_SetEnabledAndRemove(t *testing.T) {
	r, err := NewRegistry(Config{Name: "developer", Kind: KindStdio, Command: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetEnabled("DEVELOPER", true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if got := r.Enabled(); len(got) != 1 || got[0].Name != "developer" {
		t.Errorf("Enabled() = %+v", got)
	}
	if err := r.SetEnabled("ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEnabled(ghost) err = %v", err)
	}
	r.Remove("developer")
	if _, ok := r.Get("developer"); ok {
		t.Error("Remove() left the config")
	}
	if err := r.Set(Config{Name: "bad", Kind: KindStdio}); err == nil {
		t.Error("Set() accepted an invalid config")
	}
}

func TestLoadRegistry_RoundTripsThroughFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "extensions.yaml")

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry(missing) error = %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatal("missing file should yield an empty registry")
	}
	if err := r.Set(Config{Name: "github", Kind: KindSSE, URL: "https://gh.example.com/sse", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	cfg, ok := loaded.Get("github")
	if !ok || cfg.URL != "https://gh.example.com/sse" || !cfg.Enabled {
		t.Errorf("loaded = %+v, %v", cfg, ok)
	}
}

func TestLoadRegistry_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions.yaml")
	data := "extensions:\n  - name: dev\n    type: stdio\n    cmd: dev\n    colour: blue\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Error("unknown field accepted")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(empty); err != nil {
		t.Errorf("empty file err = %v", err)
	}

	if err := (&Registry{configs: map[string]Config{}}).Save(); err == nil {
		t.Error("Save() without a path succeeded")
	}
}
