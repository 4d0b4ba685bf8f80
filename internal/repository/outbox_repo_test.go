package repository

import (
	"context"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
)

func TestOutboxEnqueueIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	inserted, err := repo.Enqueue(ctx, nil, domain.TopicJobSucceeded, `{"job_id":"j1"}`, "job.succeeded:j1:1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !inserted {
		t.Error("first enqueue should insert")
	}

	inserted, err = repo.Enqueue(ctx, nil, domain.TopicJobSucceeded, `{"job_id":"j1"}`, "job.succeeded:j1:1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if inserted {
		t.Error("duplicate idempotency key should be ignored")
	}

	backlog, err := repo.BacklogCount(ctx)
	if err != nil {
		t.Fatalf("backlog failed: %v", err)
	}
	if backlog != 1 {
		t.Errorf("backlog = %d, want 1", backlog)
	}
}

func TestOutboxDeliveryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, nil, domain.TopicLeadTransitioned, "{}", "k1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	events, err := repo.FetchUndelivered(ctx, 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("fetched %d events, want 1", len(events))
	}
	event := events[0]

	// A failure with a future retry time hides the event until it is due.
	future := time.Now().UTC().Add(time.Hour)
	if err := repo.MarkFailed(ctx, event.ID, 1, future, "sink down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	events, err = repo.FetchUndelivered(ctx, 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("event with future retry should not be fetched, got %d", len(events))
	}
	backlog, _ := repo.BacklogCount(ctx)
	if backlog != 1 {
		t.Errorf("failed event still counts toward backlog, got %d", backlog)
	}

	if err := repo.MarkDelivered(ctx, event.ID); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	backlog, _ = repo.BacklogCount(ctx)
	if backlog != 0 {
		t.Errorf("delivered event must leave the backlog, got %d", backlog)
	}
}

func TestOutboxPermanentFailureIsTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, nil, domain.TopicJobFailed, "{}", "k2"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	events, err := repo.FetchUndelivered(ctx, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("fetch failed: %v (%d events)", err, len(events))
	}

	if err := repo.MarkPermanentlyFailed(ctx, events[0].ID, 8, "sink rejected"); err != nil {
		t.Fatalf("mark permanent failed: %v", err)
	}

	events, err = repo.FetchUndelivered(ctx, 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 0 {
		t.Error("permanently failed event must never be fetched again")
	}
	backlog, _ := repo.BacklogCount(ctx)
	if backlog != 0 {
		t.Errorf("permanently failed event must leave the backlog, got %d", backlog)
	}

	var row domain.OutboxEvent
	if err := db.First(&row, "idempotency_key = ?", "k2").Error; err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !row.PermanentlyFailed {
		t.Error("row should be tagged permanently_failed")
	}
	if row.LastError != "sink rejected" {
		t.Errorf("last_error = %q, want %q", row.LastError, "sink rejected")
	}
}
