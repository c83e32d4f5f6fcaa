package incident

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/store/memory"
)

func newLifecycle(t *testing.T, h *harness) *Lifecycle {
	t.Helper()
	return NewLifecycle(LifecycleDeps{
		Store:    h.store,
		Locker:   memory.NewLocker(),
		Notifier: h.notifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      h.clock.Now,
	})
}

func TestLifecycle_Transition(t *testing.T) {
	h := newHarness(t, 1, nil)
	lc := newLifecycle(t, h)
	ctx := context.Background()

	opened := h.handle(t, "svc", domain.LevelError)
	h.clock.Advance(time.Minute)

	tests := []struct {
		target     string
		wantStatus domain.Status
		resolved   bool
	}{
		{"investigating", domain.StatusInvestigating, false},
		{"RESOLVED", domain.StatusResolved, true},
		{"closed", domain.StatusClosed, true},
		// Reopening is allowed while no other incident is open.
		{"open", domain.StatusOpen, false},
	}

	last := time.Time{}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			h.clock.Advance(time.Second)

			inc, err := lc.Transition(ctx, opened.IncidentID, tt.target)
			if err != nil {
				t.Fatalf("Transition error: %v", err)
			}
			if inc.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", inc.Status, tt.wantStatus)
			}
			if (inc.ResolvedAt != nil) != tt.resolved {
				t.Errorf("ResolvedAt = %v, want set=%v", inc.ResolvedAt, tt.resolved)
			}
			if !inc.UpdatedAt.After(last) {
				t.Errorf("UpdatedAt %v did not advance past %v", inc.UpdatedAt, last)
			}
			last = inc.UpdatedAt

			stored, _ := h.store.Incidents().GetByID(ctx, opened.IncidentID)
			if stored.Status != tt.wantStatus {
				t.Errorf("stored Status = %s, want %s", stored.Status, tt.wantStatus)
			}
		})
	}

	if len(h.notifier.changed) != len(tests) {
		t.Errorf("status notifications = %d, want %d", len(h.notifier.changed), len(tests))
	}
}

func TestLifecycle_Errors(t *testing.T) {
	h := newHarness(t, 1, nil)
	lc := newLifecycle(t, h)
	ctx := context.Background()

	opened := h.handle(t, "svc", domain.LevelError)

	_, err := lc.Transition(ctx, opened.IncidentID, "archived")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("invalid status error = %v, want ErrValidation", err)
	}

	_, err = lc.Transition(ctx, "missing", "resolved")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing incident error = %v, want ErrNotFound", err)
	}
}

func TestLifecycle_ReopenConflict(t *testing.T) {
	h := newHarness(t, 1, nil)
	lc := newLifecycle(t, h)
	ctx := context.Background()

	first := h.handle(t, "svc", domain.LevelError)
	if _, err := lc.Transition(ctx, first.IncidentID, "resolved"); err != nil {
		t.Fatalf("Transition error: %v", err)
	}

	second := h.handle(t, "svc", domain.LevelError)
	if second.Kind != OutcomeOpened {
		t.Fatalf("outcome = %s, want opened", second.Kind)
	}

	_, err := lc.Transition(ctx, first.IncidentID, "open")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("reopen error = %v, want ErrConflict", err)
	}

	stored, _ := h.store.Incidents().GetByID(ctx, first.IncidentID)
	if stored.Status != domain.StatusResolved {
		t.Errorf("Status = %s, want resolved after rejected reopen", stored.Status)
	}
}

func TestLifecycle_ResolveFreesService(t *testing.T) {
	h := newHarness(t, 1, nil)
	lc := newLifecycle(t, h)
	ctx := context.Background()

	first := h.handle(t, "svc", domain.LevelError)
	if _, err := lc.Transition(ctx, first.IncidentID, "investigating"); err != nil {
		t.Fatalf("Transition error: %v", err)
	}

	// An investigating incident no longer accepts events.
	next := h.handle(t, "svc", domain.LevelError)
	if next.Kind != OutcomeOpened || next.IncidentID == first.IncidentID {
		t.Errorf("outcome = %+v, want a new incident", next)
	}
}
