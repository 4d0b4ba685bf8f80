package repository

import (
	"context"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/domain"
)

func TestEnqueueIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	params := EnqueueParams{
		Type:           domain.JobTypeSendInvite,
		Payload:        `{"lead_id":"l1","profile_url":"https://example.com/in/a"}`,
		IdempotencyKey: "send_invite:l1",
		AccountID:      "acct1",
	}

	inserted, err := repo.Enqueue(ctx, params)
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if !inserted {
		t.Error("first enqueue should insert a new row")
	}

	inserted, err = repo.Enqueue(ctx, params)
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if inserted {
		t.Error("second enqueue with same idempotency key should be ignored")
	}

	count, err := repo.CountByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("queued count = %d, want 1", count)
	}
}

func TestClaimNextOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "low", Priority: 100, AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "high", Priority: 10, AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, err := repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	if job.IdempotencyKey != "high" {
		t.Errorf("claimed job key = %q, want %q (lowest priority value first)", job.IdempotencyKey, "high")
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("claimed job status = %q, want running", job.Status)
	}
	if job.LockedAt == nil {
		t.Error("claimed job should carry a locked_at timestamp")
	}

	job, err = repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job == nil || job.IdempotencyKey != "low" {
		t.Fatalf("second claim should return the remaining job, got %+v", job)
	}

	job, err = repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job != nil {
		t.Errorf("third claim should return nil on an empty queue, got %+v", job)
	}
}

func TestClaimNextRespectsNextRunAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "future", Delay: time.Hour, AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, err := repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job != nil {
		t.Errorf("job with future next_run_at must not be claimable, got %+v", job)
	}
}

func TestClaimNextAccountFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "other", AccountID: "acct2",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "legacy", AccountID: "",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, err := repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job != nil {
		t.Errorf("strict account filter must not claim other accounts' jobs, got %+v", job)
	}

	job, err = repo.ClaimNext(ctx, nil, "acct1", true)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job == nil || job.IdempotencyKey != "legacy" {
		t.Fatalf("legacy mode should claim the unpartitioned job, got %+v", job)
	}
}

func TestClaimNextTypeFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeWithdraw, Payload: "{}", IdempotencyKey: "w1", AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job, err := repo.ClaimNext(ctx, []string{domain.JobTypeSendInvite}, "acct1", false)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if job != nil {
		t.Errorf("type filter must exclude non-matching jobs, got %+v", job)
	}
}

func TestMarkRetryOrDeadLetter(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendInvite, Payload: "{}", IdempotencyKey: "j1", MaxAttempts: 3, AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	job, err := repo.ClaimNext(ctx, nil, "acct1", false)
	if err != nil || job == nil {
		t.Fatalf("claim failed: job=%v err=%v", job, err)
	}

	status, err := repo.MarkRetryOrDeadLetter(ctx, job.ID, 1, 3, time.Minute, "boom")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if status != domain.JobStatusQueued {
		t.Errorf("status after first failure = %q, want queued", status)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LockedAt != nil {
		t.Error("retry must clear the claim lock")
	}
	if got.LastError != "boom" {
		t.Errorf("last_error = %q, want %q", got.LastError, "boom")
	}
	if !got.NextRunAt.After(time.Now().UTC().Add(30 * time.Second)) {
		t.Errorf("next_run_at = %v, want at least ~1m in the future", got.NextRunAt)
	}

	status, err = repo.MarkRetryOrDeadLetter(ctx, job.ID, 3, 3, time.Minute, "boom again")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if status != domain.JobStatusDeadLetter {
		t.Errorf("status at attempt budget = %q, want dead_letter", status)
	}
}

func TestThreeFailuresDeadLetter(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueParams{
		Type: domain.JobTypeSendMessage, Payload: "{}", IdempotencyKey: "m1", MaxAttempts: 3, AccountID: "acct1",
	}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	var last domain.JobStatus
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := repo.ClaimNext(ctx, nil, "acct1", false)
		if err != nil {
			t.Fatalf("claim %d failed: %v", attempt, err)
		}
		if job == nil {
			t.Fatalf("claim %d returned nil, job should still be runnable", attempt)
		}
		if err := repo.RecordAttempt(ctx, job.ID, false, "execution_failed", "timeout"); err != nil {
			t.Fatalf("record attempt failed: %v", err)
		}
		last, err = repo.MarkRetryOrDeadLetter(ctx, job.ID, attempt, job.MaxAttempts, 0, "timeout")
		if err != nil {
			t.Fatalf("mark %d failed: %v", attempt, err)
		}
	}

	if last != domain.JobStatusDeadLetter {
		t.Errorf("status after three failures = %q, want dead_letter", last)
	}

	count, err := repo.CountByStatus(ctx, domain.JobStatusDeadLetter)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("dead_letter count = %d, want 1", count)
	}
}

func TestRecoverStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	fresh := time.Now().UTC()
	stale := domain.Job{
		ID: "stale", Type: domain.JobTypeSendInvite, Status: domain.JobStatusRunning,
		IdempotencyKey: "stale", LockedAt: &old, NextRunAt: old,
	}
	live := domain.Job{
		ID: "live", Type: domain.JobTypeSendInvite, Status: domain.JobStatusRunning,
		IdempotencyKey: "live", LockedAt: &fresh, NextRunAt: fresh,
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := db.Create(&live).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	recovered, err := repo.RecoverStale(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	got, err := repo.GetByID(ctx, "stale")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.JobStatusQueued {
		t.Errorf("stale job status = %q, want queued", got.Status)
	}
	if got.LastError == "" {
		t.Error("recovered job should carry an explanatory last_error")
	}

	got, err = repo.GetByID(ctx, "live")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.JobStatusRunning {
		t.Errorf("live job status = %q, want running (untouched)", got.Status)
	}
}

func TestRecycleAndMarkTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	dead := domain.Job{
		ID: "d1", Type: domain.JobTypeSendInvite, Status: domain.JobStatusDeadLetter,
		IdempotencyKey: "d1", Attempts: 3, MaxAttempts: 3, LastError: "ETIMEDOUT",
		NextRunAt: time.Now().UTC(),
	}
	if err := db.Create(&dead).Error; err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := repo.Recycle(ctx, "d1", 200, time.Hour, "recycled"); err != nil {
		t.Fatalf("recycle failed: %v", err)
	}
	got, err := repo.GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.JobStatusQueued {
		t.Errorf("recycled status = %q, want queued", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("recycled attempts = %d, want 0", got.Attempts)
	}
	if got.Priority != 200 {
		t.Errorf("recycled priority = %d, want 200", got.Priority)
	}
	if got.TriageNote != "recycled" {
		t.Errorf("triage note = %q, want %q", got.TriageNote, "recycled")
	}

	// MarkTerminal only applies to jobs still dead-lettered.
	if err := repo.MarkTerminal(ctx, "d1", "terminal"); err != nil {
		t.Fatalf("mark terminal failed: %v", err)
	}
	got, err = repo.GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TriageNote != "recycled" {
		t.Errorf("terminal annotation must not touch a recycled job, note = %q", got.TriageNote)
	}
}
