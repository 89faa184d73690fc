package policy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestManager_SetLookupRemove(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)

	if err := m.Set(ctx, "Dev__Shell", models.PermissionLevelAlwaysAllow); err != nil {
		t.Fatalf("Set: %v", err)
	}
	level, ok, err := m.Lookup(ctx, "dev__shell")
	if err != nil || !ok || level != models.PermissionLevelAlwaysAllow {
		t.Fatalf("Lookup = %q, %v, %v", level, ok, err)
	}

	if err := m.Remove(ctx, "dev__shell"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := m.Lookup(ctx, "dev__shell"); ok {
		t.Error("decision still present after Remove")
	}
}

func TestManager_RejectsInvalidInput(t *testing.T) {
	m := NewManager(nil, nil)
	if err := m.Set(context.Background(), "x", "sometimes"); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("err = %v, want ErrInvalidLevel", err)
	}
	if err := m.Set(context.Background(), "  ", models.PermissionLevelAlwaysDeny); !errors.Is(err, ErrEmptyToolName) {
		t.Errorf("err = %v, want ErrEmptyToolName", err)
	}
}

func TestManager_ConcurrentUpdatesNotLost(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewFileStore(filepath.Join(t.TempDir(), "permissions.yaml")), nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Set(ctx, fmt.Sprintf("tool_%02d", i), models.PermissionLevelAlwaysAllow); err != nil {
				t.Errorf("Set: %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 25 {
		t.Fatalf("got %d decisions, want 25", len(list))
	}
	if list[0].ToolName != "tool_00" || list[24].ToolName != "tool_24" {
		t.Errorf("list not sorted: first=%s last=%s", list[0].ToolName, list[24].ToolName)
	}
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	_ = m.Set(ctx, "a", models.PermissionLevelAlwaysAllow)
	_ = m.Set(ctx, "b", models.PermissionLevelAlwaysDeny)
	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	list, _ := m.List(ctx)
	if len(list) != 0 {
		t.Errorf("list after reset = %v", list)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "permissions.yaml")
	store := NewFileStore(path)

	empty, err := store.Load(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("Load missing file = %v, %v", empty, err)
	}

	want := map[string]models.PermissionLevel{
		"dev__shell": models.PermissionLevelAlwaysAllow,
		"dev__rm":    models.PermissionLevelAlwaysDeny,
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got["dev__shell"] != models.PermissionLevelAlwaysAllow || got["dev__rm"] != models.PermissionLevelAlwaysDeny {
		t.Errorf("loaded %v", got)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".permissions-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestSQLStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT tool_name, level FROM tool_permissions").
		WillReturnRows(sqlmock.NewRows([]string{"tool_name", "level"}).
			AddRow("dev__shell", "always_allow").
			AddRow("dev__rm", "always_deny").
			AddRow("dev__odd", "maybe"))

	store := NewSQLStore(db, DialectPostgres)
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want invalid level skipped", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Save(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		wantErr     bool
		errContains string
	}{
		{
			name: "replaces rows in order",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM tool_permissions").
					WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectExec("INSERT INTO tool_permissions").
					WithArgs("a", "always_deny").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO tool_permissions").
					WithArgs("b", "always_allow").
					WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "insert failure rolls back",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM tool_permissions").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO tool_permissions").
					WillReturnError(errors.New("connection refused"))
				mock.ExpectRollback()
			},
			wantErr:     true,
			errContains: "insert permission a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock db: %v", err)
			}
			defer db.Close()
			tt.setupMock(mock)

			store := NewSQLStore(db, DialectSQLite)
			err = store.Save(context.Background(), map[string]models.PermissionLevel{
				"b": models.PermissionLevelAlwaysAllow,
				"a": models.PermissionLevelAlwaysDeny,
			})
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("err = %v, want containing %q", err, tt.errContains)
				}
			} else if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_InsertPlaceholders(t *testing.T) {
	if q := NewSQLStore(nil, DialectPostgres).insertQuery(); !strings.Contains(q, "$1") {
		t.Errorf("postgres query %q lacks numbered placeholders", q)
	}
	if q := NewSQLStore(nil, DialectSQLite).insertQuery(); !strings.Contains(q, "?") {
		t.Errorf("sqlite query %q lacks ? placeholders", q)
	}
}

func TestOpenSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "perms.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	defer store.Close()

	m := NewManager(store, nil)
	if err := m.Set(ctx, "dev__shell", models.PermissionLevelAlwaysAllow); err != nil {
		t.Fatalf("Set: %v", err)
	}
	level, ok, err := m.Lookup(ctx, "dev__shell")
	if err != nil || !ok || level != models.PermissionLevelAlwaysAllow {
		t.Errorf("Lookup = %q, %v, %v", level, ok, err)
	}
}
