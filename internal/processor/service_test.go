package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"opsassist/internal/classifier"
	"opsassist/internal/domain"
	"opsassist/internal/queue"
	"opsassist/internal/queue/memory"
	storemem "opsassist/internal/store/memory"
)

// scriptedClassifier returns a fixed answer and counts its calls.
type scriptedClassifier struct {
	result *domain.Classification
	err    error
	delay  time.Duration
	calls  atomic.Int32
	seen   atomic.Pointer[classifier.Context]
}

func (c *scriptedClassifier) Name() string { return "scripted" }

func (c *scriptedClassifier) Classify(ctx context.Context, in *classifier.Context) (*domain.Classification, error) {
	c.calls.Add(1)
	c.seen.Store(in)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.result, c.err
}

var dbClassification = &domain.Classification{
	Category:           "database_issue",
	Severity:           "P1",
	Summary:            "Database connection issues detected in checkout",
	RecommendedActions: []string{"restart_db_service"},
}

// testSetup creates a processor over fresh in-memory dependencies.
func testSetup(c classifier.Classifier, opts Options) (*Service, *memory.Queue, *storemem.Store) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	msgQueue := memory.NewQueue(100, logger)
	st := storemem.NewStore()

	return NewService(msgQueue, st, c, opts, logger), msgQueue, st
}

// seedIncident stores an open incident with n linked events.
func seedIncident(t *testing.T, st *storemem.Store, id string, n int) *domain.Incident {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	incident := domain.NewIncident(id, "checkout", base)
	if err := st.Incidents().Create(ctx, incident); err != nil {
		t.Fatalf("Create incident error: %v", err)
	}

	for i := 0; i < n; i++ {
		ref := id
		e := &domain.Event{
			ID:         fmt.Sprintf("%s-evt-%d", id, i),
			Service:    "checkout",
			Level:      domain.LevelError,
			Message:    fmt.Sprintf("db timeout %d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			IncidentID: &ref,
		}
		if err := st.Events().Create(ctx, e); err != nil {
			t.Fatalf("Create event error: %v", err)
		}
	}

	return incident
}

func TestClassifyIncident_StoresResult(t *testing.T) {
	fake := &scriptedClassifier{result: dbClassification}
	service, _, st := testSetup(fake, Options{MaxContextEvents: 3})
	seedIncident(t, st, "inc-1", 5)

	if err := service.ClassifyIncident(context.Background(), "inc-1"); err != nil {
		t.Fatalf("ClassifyIncident error: %v", err)
	}

	got, _ := st.Incidents().GetByID(context.Background(), "inc-1")
	if got.Category != "database_issue" || got.Severity != "P1" {
		t.Errorf("classification = %s/%s, want database_issue/P1", got.Category, got.Severity)
	}
	if len(got.RecommendedActions) != 1 {
		t.Errorf("RecommendedActions = %v", got.RecommendedActions)
	}

	in := fake.seen.Load()
	if in == nil {
		t.Fatal("classifier never saw a context")
	}
	if in.TotalEvents != 5 || len(in.Events) != 3 {
		t.Errorf("context has %d of %d events, want 3 of 5", len(in.Events), in.TotalEvents)
	}
	if in.Events[0].Message != "db timeout 4" {
		t.Errorf("first context event = %q, want the newest", in.Events[0].Message)
	}
}

func TestClassifyIncident_SkipsClassified(t *testing.T) {
	fake := &scriptedClassifier{result: dbClassification}
	service, _, st := testSetup(fake, Options{})
	seedIncident(t, st, "inc-1", 1)

	ctx := context.Background()
	if err := service.ClassifyIncident(ctx, "inc-1"); err != nil {
		t.Fatalf("first ClassifyIncident error: %v", err)
	}

	fake.result = &domain.Classification{Category: "other", Severity: "P3", Summary: "x"}
	if err := service.ClassifyIncident(ctx, "inc-1"); err != nil {
		t.Fatalf("second ClassifyIncident error: %v", err)
	}

	if n := fake.calls.Load(); n != 1 {
		t.Errorf("classifier calls = %d, want 1", n)
	}
	got, _ := st.Incidents().GetByID(ctx, "inc-1")
	if got.Category != "database_issue" {
		t.Errorf("Category = %s, classification must not change once set", got.Category)
	}
}

func TestClassifyIncident_Failures(t *testing.T) {
	tests := []struct {
		name       string
		classifier *scriptedClassifier
		incidentID string
		timeout    time.Duration
		wantErr    error
	}{
		{
			name:       "unknown incident",
			classifier: &scriptedClassifier{result: dbClassification},
			incidentID: "missing",
			wantErr:    domain.ErrNotFound,
		},
		{
			name:       "classifier unavailable",
			classifier: &scriptedClassifier{err: domain.ErrUnavailable},
			incidentID: "inc-1",
			wantErr:    domain.ErrUnavailable,
		},
		{
			name:       "classifier times out",
			classifier: &scriptedClassifier{result: dbClassification, delay: time.Second},
			incidentID: "inc-1",
			timeout:    20 * time.Millisecond,
			wantErr:    context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, st := testSetup(tt.classifier, Options{Timeout: tt.timeout})
			seedIncident(t, st, "inc-1", 2)

			err := service.ClassifyIncident(context.Background(), tt.incidentID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ClassifyIncident error = %v, want %v", err, tt.wantErr)
			}

			got, _ := st.Incidents().GetByID(context.Background(), "inc-1")
			if got.IsClassified() {
				t.Errorf("incident classified as %s after failure", got.Category)
			}
		})
	}
}

func TestService_ConsumesTasks(t *testing.T) {
	fake := &scriptedClassifier{result: dbClassification}
	service, msgQueue, st := testSetup(fake, Options{Workers: 3})

	const incidents = 6
	for i := 0; i < incidents; i++ {
		seedIncident(t, st, fmt.Sprintf("inc-%d", i), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()

	// A malformed task is dropped without stopping the workers.
	if err := msgQueue.Publish(ctx, &queue.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	for i := 0; i < incidents; i++ {
		msg, err := queue.NewClassificationMessage(&queue.ClassificationTask{
			IncidentID: fmt.Sprintf("inc-%d", i),
			Service:    "checkout",
			EnqueuedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("NewClassificationMessage error: %v", err)
		}
		if err := msgQueue.Publish(ctx, msg); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		classified := 0
		for i := 0; i < incidents; i++ {
			got, _ := st.Incidents().GetByID(ctx, fmt.Sprintf("inc-%d", i))
			if got.IsClassified() {
				classified++
			}
		}
		if classified == incidents {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("classified %d of %d incidents", classified, incidents)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v after cancellation, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestService_StopEndsWorkers(t *testing.T) {
	service, _, _ := testSetup(&scriptedClassifier{result: dbClassification}, Options{Workers: 2})

	done := make(chan error, 1)
	go func() { done <- service.Start(context.Background()) }()

	// Give the workers a moment to attach to the queue.
	time.Sleep(20 * time.Millisecond)
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("workers still running after Stop")
	}
}
