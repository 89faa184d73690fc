package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func request(id, name string) models.ToolRequest {
	return models.ToolRequest{ID: id, ToolCall: &models.ToolCall{Name: name, Arguments: json.RawMessage(`{}`)}}
}

type stubDetector struct {
	readOnly []string
	err      error
	calls    int
	seen     []string
}

func (d *stubDetector) DetectReadOnly(ctx context.Context, requests []models.ToolRequest) ([]string, error) {
	d.calls++
	for _, r := range requests {
		d.seen = append(d.seen, r.Name())
	}
	return d.readOnly, d.err
}

type failingReader struct{}

func (failingReader) Snapshot(ctx context.Context) (map[string]models.PermissionLevel, error) {
	return nil, errors.New("disk on fire")
}

func ids(reqs []models.ToolRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(got []models.ToolRequest, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].ID != want[i] {
			return false
		}
	}
	return true
}

func newManagerWith(t *testing.T, decisions map[string]models.PermissionLevel) *Manager {
	t.Helper()
	m := NewManager(NewMemoryStore(), nil)
	for name, level := range decisions {
		if err := m.Set(context.Background(), name, level); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
	return m
}

func TestJudge_DecisionOrder(t *testing.T) {
	store := map[string]models.PermissionLevel{
		"dev__write": models.PermissionLevelAlwaysAllow,
		"dev__rm":    models.PermissionLevelAlwaysDeny,
		"dev__read":  models.PermissionLevelAlwaysDeny,
	}
	tests := []struct {
		name        string
		mode        TrustMode
		tool        string
		wantApprove bool
		wantDeny    bool
	}{
		{"read-only beats stored deny", ModeApprove, "dev__read", true, false},
		{"stored allow", ModeApprove, "dev__write", true, false},
		{"stored deny beats auto", ModeAuto, "dev__rm", false, true},
		{"auto approves unknown", ModeAuto, "dev__shell", true, false},
		{"approve asks for unknown", ModeApprove, "dev__shell", false, false},
		{"chat falls through to confirmation", ModeChat, "dev__shell", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := NewJudge(newManagerWith(t, store), nil, nil)
			got := judge.Check(context.Background(), JudgeInput{
				Requests: []models.ToolRequest{request("1", tt.tool)},
				ReadOnly: NewNameSet("dev__read"),
				Mode:     tt.mode,
			})
			switch {
			case tt.wantApprove:
				if !equalIDs(got.Approved, "1") {
					t.Errorf("expected approval, got %+v", got)
				}
			case tt.wantDeny:
				if !equalIDs(got.Denied, "1") {
					t.Errorf("expected denial, got %+v", got)
				}
			default:
				if !equalIDs(got.NeedsConfirmation, "1") {
					t.Errorf("expected confirmation, got %+v", got)
				}
			}
		})
	}
}

func TestJudge_ReadOnlyAlwaysApproved(t *testing.T) {
	modes := []TrustMode{ModeAuto, ModeApprove, ModeSmartApprove, ModeChat, "unknown"}
	levels := []models.PermissionLevel{"", models.PermissionLevelAlwaysAllow, models.PermissionLevelAlwaysDeny}
	for _, mode := range modes {
		for _, level := range levels {
			decisions := map[string]models.PermissionLevel{}
			if level != "" {
				decisions["fs__cat"] = level
			}
			judge := NewJudge(newManagerWith(t, decisions), &stubDetector{}, nil)
			got := judge.Check(context.Background(), JudgeInput{
				Requests: []models.ToolRequest{request("r", "fs__cat")},
				ReadOnly: NewNameSet("fs__cat"),
				Mode:     mode,
			})
			if !equalIDs(got.Approved, "r") {
				t.Errorf("mode=%s level=%q: read-only tool not approved: %+v", mode, level, got)
			}
		}
	}
}

func TestJudge_SmartApprove(t *testing.T) {
	detector := &stubDetector{readOnly: []string{"web__fetch"}}
	judge := NewJudge(newManagerWith(t, nil), detector, nil)
	got := judge.Check(context.Background(), JudgeInput{
		Requests: []models.ToolRequest{
			request("1", "web__fetch"),
			request("2", "fs__write"),
			request("3", "db__drop"),
		},
		Unannotated: NewNameSet("web__fetch", "fs__write"),
		Mode:        ModeSmartApprove,
	})
	if detector.calls != 1 {
		t.Errorf("detector calls = %d, want 1", detector.calls)
	}
	if len(detector.seen) != 2 {
		t.Errorf("detector saw %v, want only unannotated tools", detector.seen)
	}
	if !equalIDs(got.Approved, "1") {
		t.Errorf("approved = %v, want [1]", ids(got.Approved))
	}
	if !equalIDs(got.NeedsConfirmation, "2", "3") {
		t.Errorf("needs confirmation = %v, want [2 3]", ids(got.NeedsConfirmation))
	}
}

func TestJudge_SmartApproveDetectorFailure(t *testing.T) {
	detector := &stubDetector{readOnly: []string{"web__fetch"}, err: errors.New("provider down")}
	judge := NewJudge(nil, detector, nil)
	got := judge.Check(context.Background(), JudgeInput{
		Requests:    []models.ToolRequest{request("1", "web__fetch")},
		Unannotated: NewNameSet("web__fetch"),
		Mode:        ModeSmartApprove,
	})
	if !equalIDs(got.NeedsConfirmation, "1") {
		t.Errorf("detector failure should require confirmation, got %+v", got)
	}
}

func TestJudge_SkipsDetectorOutsideSmartMode(t *testing.T) {
	detector := &stubDetector{readOnly: []string{"web__fetch"}}
	judge := NewJudge(nil, detector, nil)
	judge.Check(context.Background(), JudgeInput{
		Requests:    []models.ToolRequest{request("1", "web__fetch")},
		Unannotated: NewNameSet("web__fetch"),
		Mode:        ModeApprove,
	})
	if detector.calls != 0 {
		t.Errorf("detector called %d times in approve mode", detector.calls)
	}
}

func TestJudge_StoreFailureTreatedAsEmpty(t *testing.T) {
	judge := NewJudge(failingReader{}, nil, nil)
	got := judge.Check(context.Background(), JudgeInput{
		Requests: []models.ToolRequest{request("1", "a"), request("2", "b")},
		Mode:     ModeAuto,
	})
	if !equalIDs(got.Approved, "1", "2") {
		t.Errorf("approved = %v", ids(got.Approved))
	}
}

func TestJudge_DoesNotWriteStore(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil)
	judge := NewJudge(m, &stubDetector{readOnly: []string{"x"}}, nil)
	judge.Check(context.Background(), JudgeInput{
		Requests:    []models.ToolRequest{request("1", "x"), request("2", "y")},
		Unannotated: NewNameSet("x", "y"),
		Mode:        ModeSmartApprove,
	})
	loaded, _ := store.Load(context.Background())
	if len(loaded) != 0 {
		t.Errorf("store mutated by judge: %v", loaded)
	}
}

func TestJudge_PartitionIsComplete(t *testing.T) {
	var reqs []models.ToolRequest
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, name := range names {
		reqs = append(reqs, request(string(rune('0'+i)), name))
	}
	judge := NewJudge(newManagerWith(t, map[string]models.PermissionLevel{
		"b": models.PermissionLevelAlwaysDeny,
		"c": models.PermissionLevelAlwaysAllow,
	}), nil, nil)
	got := judge.Check(context.Background(), JudgeInput{
		Requests: reqs,
		ReadOnly: NewNameSet("a"),
		Mode:     ModeApprove,
	})
	seen := map[string]int{}
	for _, list := range [][]models.ToolRequest{got.Approved, got.Denied, got.NeedsConfirmation} {
		for _, r := range list {
			seen[r.ID]++
		}
	}
	if len(seen) != len(reqs) {
		t.Fatalf("partition covers %d of %d requests", len(seen), len(reqs))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("request %s appears %d times", id, n)
		}
	}
}

func TestParseTrustMode(t *testing.T) {
	tests := map[string]TrustMode{
		"auto":           ModeAuto,
		" Smart_Approve": ModeSmartApprove,
		"chat":           ModeChat,
		"approve":        ModeApprove,
		"bogus":          ModeApprove,
		"":               ModeApprove,
	}
	for in, want := range tests {
		if got := ParseTrustMode(in); got != want {
			t.Errorf("ParseTrustMode(%q) = %q, want %q", in, got, want)
		}
	}
}
