package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(status RunStatus) *Run {
	now := time.Now().Truncate(time.Second)
	return &Run{
		ID:         uuid.New().String(),
		PlanName:   "site",
		PlanPath:   "/srv/plans/site.yml",
		Status:     status,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun(RunStatusOK)
	results := []TaskResult{
		{Host: "web1", Plan: "site", Task: "install nginx", Kind: "pkg", Outcome: "changed", Detail: "installed nginx", Duration: 3 * time.Second},
		{Host: "web1", Plan: "site", Task: "restart nginx", Kind: "service", Handler: true, Outcome: "changed", Duration: time.Second},
	}

	if err := store.SaveRun(ctx, run, results); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.PlanName != "site" || got.Status != RunStatusOK {
		t.Errorf("Unexpected run: %+v", got)
	}

	stored, err := store.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(stored))
	}
	if stored[0].Task != "install nginx" || stored[1].Task != "restart nginx" {
		t.Errorf("Results out of order: %+v", stored)
	}
	if !stored[1].Handler {
		t.Error("Expected handler flag on second result")
	}
	if stored[0].Duration != 3*time.Second {
		t.Errorf("Expected 3s duration, got %v", stored[0].Duration)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun(context.Background(), uuid.New().String()); err == nil {
		t.Error("Expected not-found error")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := sampleRun(RunStatusOK)
	old.StartedAt = time.Now().Add(-2 * time.Hour)
	old.FinishedAt = old.StartedAt.Add(time.Minute)
	recent := sampleRun(RunStatusFailed)

	if err := store.SaveRun(ctx, old, nil); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveRun(ctx, recent, nil); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != recent.ID {
		t.Errorf("Expected newest run first, got %s", runs[0].ID)
	}
	if runs[1].Status != RunStatusOK {
		t.Errorf("Unexpected status on older run: %s", runs[1].Status)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
}
