package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestConfirmationRouter_OutOfOrder(t *testing.T) {
	r := NewConfirmationRouter()
	ids := []string{"a", "b", "c"}
	chans := make(map[string]<-chan models.Permission)
	for _, id := range ids {
		ch, err := r.decisions.register(id)
		if err != nil {
			t.Fatalf("register(%s) error = %v", id, err)
		}
		chans[id] = ch
	}

	want := map[string]models.Permission{
		"a": models.PermissionDeny,
		"b": models.PermissionAllowOnce,
		"c": models.PermissionAlwaysAllow,
	}
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Confirm(models.PermissionConfirmation{RequestID: id, Permission: want[id]}); err != nil {
			t.Fatalf("Confirm(%s) error = %v", id, err)
		}
	}

	for _, id := range ids {
		got, err := r.decisions.await(context.Background(), id, chans[id])
		if err != nil {
			t.Fatalf("await(%s) error = %v", id, err)
		}
		if got != want[id] {
			t.Errorf("%s = %s, want %s", id, got, want[id])
		}
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d", r.Pending())
	}
}

func TestConfirmationRouter_Errors(t *testing.T) {
	r := NewConfirmationRouter()

	err := r.Confirm(models.PermissionConfirmation{RequestID: "ghost", Permission: models.PermissionDeny})
	if !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("unknown id err = %v", err)
	}

	if _, err := r.decisions.register("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.decisions.register("x"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("duplicate err = %v", err)
	}

	if err := r.Confirm(models.PermissionConfirmation{RequestID: "x", Permission: "maybe"}); err == nil {
		t.Error("invalid permission accepted")
	}

	if err := r.Confirm(models.PermissionConfirmation{RequestID: "x", Permission: models.PermissionAllowOnce}); err != nil {
		t.Errorf("Confirm() error = %v", err)
	}
	if err := r.Confirm(models.PermissionConfirmation{RequestID: "x", Permission: models.PermissionAllowOnce}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("second answer err = %v, want ErrUnknownRequest", err)
	}

	if err := r.SubmitResult("nobody", FrontendResult{}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("SubmitResult() err = %v", err)
	}
}

func TestConfirmationRouter_AwaitCancelled(t *testing.T) {
	r := NewConfirmationRouter()
	ch, err := r.results.register("f")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.results.await(ctx, "f", ch); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("await() err = %v", err)
	}
	if r.Pending() != 0 {
		t.Errorf("id not released, Pending() = %d", r.Pending())
	}
}

func TestConfirmationRouter_ConcurrentDelivery(t *testing.T) {
	r := NewConfirmationRouter()
	const n = 50
	chans := make([]<-chan FrontendResult, n)
	for i := 0; i < n; i++ {
		ch, err := r.results.register(string(rune('A' + i)))
		if err != nil {
			t.Fatal(err)
		}
		chans[i] = ch
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := string(rune('A' + i))
			if err := r.SubmitResult(text, FrontendResult{Content: []models.Content{models.TextContent(text)}}); err != nil {
				t.Errorf("SubmitResult(%s) error = %v", text, err)
			}
		}(i)
	}
	wg.Wait()

	for i, ch := range chans {
		got := <-ch
		if want := string(rune('A' + i)); got.Content[0].Text != want {
			t.Errorf("slot %d got %q, want %q", i, got.Content[0].Text, want)
		}
	}
}
