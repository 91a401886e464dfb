package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"landingzone/internal/config"
	"landingzone/internal/models"
	"landingzone/internal/storage"
)

func TestUpsertUserCreatesThenUpdates(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	first, err := svc.UpsertUser(ctx, Profile{Username: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.ID == 0 || first.Username != "alice" {
		t.Fatalf("unexpected user %+v", first)
	}

	second, err := svc.UpsertUser(ctx, Profile{Username: "alice", DisplayName: "Alice L.", AvatarURL: "https://a/p.png"})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user id, got %d and %d", first.ID, second.ID)
	}
	if second.DisplayName != "Alice L." || second.AvatarURL != "https://a/p.png" {
		t.Fatalf("profile not updated: %+v", second)
	}

	got, err := svc.GetUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("unexpected username %q", got.Username)
	}

	if _, err := svc.UpsertUser(ctx, Profile{Username: "  "}); err == nil {
		t.Fatalf("expected error for empty username")
	}
}

func TestDeleteUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	u, err := svc.UpsertUser(ctx, Profile{Username: "bob"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := svc.StartRun(ctx, u.ID, "health"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := svc.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetUser(ctx, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	runs, err := svc.ListRuns(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected runs to cascade, got %d", len(runs))
	}
	if err := svc.DeleteUser(ctx, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on second delete, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	u, err := svc.UpsertUser(ctx, Profile{Username: "carol"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, err := svc.StartRun(ctx, u.ID, "health")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if ok.Status != models.RunRunning || ok.ID == "" {
		t.Fatalf("unexpected run %+v", ok)
	}
	if err := svc.FinishRun(ctx, ok.ID, RunOutcome{DatasetID: "carol/health-data", SpaceID: "carol/health-mcp"}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	bad, err := svc.StartRun(ctx, u.ID, "health")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := svc.FinishRun(ctx, bad.ID, RunOutcome{Kind: "upload_failed", Message: "boom"}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := svc.ListRuns(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != bad.ID || runs[0].Status != models.RunFailed || runs[0].ErrorKind != "upload_failed" {
		t.Fatalf("unexpected newest run %+v", runs[0])
	}
	if runs[1].Status != models.RunSucceeded || runs[1].SpaceID != "carol/health-mcp" || runs[1].FinishedAt == nil {
		t.Fatalf("unexpected oldest run %+v", runs[1])
	}

	if err := svc.FinishRun(ctx, "missing", RunOutcome{}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}
