package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/repository"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		message string
		want    TriageClass
	}{
		{"404 user not found", TriageTerminal},
		{"profile Not Found", TriageTerminal},
		{"account banned by platform", TriageTerminal},
		{"invalid payload for job type", TriageTerminal},
		{"ETIMEDOUT while loading page", TriageRecoverable},
		{"connection reset by peer", TriageRecoverable},
		{"upstream returned 503", TriageRecoverable},
		{"rate limit exceeded", TriageRecoverable},
		{"something completely unexpected", TriageRecoverable},
		{"", TriageRecoverable},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.message); got != tt.want {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestSweepRecyclesAndMarksTerminal(t *testing.T) {
	db := newTestDB(t)
	jobRepo := repository.NewJobRepository(db)
	ctx := context.Background()

	seed := []domain.Job{
		{ID: "dl-terminal", Type: domain.JobTypeSendInvite, Status: domain.JobStatusDeadLetter, IdempotencyKey: "dl-terminal",
			AccountID: "acct-1", Attempts: 3, MaxAttempts: 3, LastError: "404 user not found", NextRunAt: time.Now().UTC()},
		{ID: "dl-recoverable", Type: domain.JobTypeSendMessage, Status: domain.JobStatusDeadLetter, IdempotencyKey: "dl-recoverable",
			AccountID: "acct-1", Attempts: 3, MaxAttempts: 3, LastError: "ETIMEDOUT", NextRunAt: time.Now().UTC()},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	worker := NewTriageWorker(config.TriageConfig{BatchSize: 10}, 200, jobRepo, quietLogger())
	result, err := worker.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Scanned != 2 || result.Recycled != 1 || result.Terminal != 1 {
		t.Errorf("sweep result = %+v, want scanned 2, recycled 1, terminal 1", result)
	}

	terminal, err := jobRepo.GetByID(ctx, "dl-terminal")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if terminal.Status != domain.JobStatusDeadLetter {
		t.Errorf("terminal job status = %s, want dead_letter", terminal.Status)
	}
	if !strings.HasPrefix(terminal.TriageNote, "triage: terminal") {
		t.Errorf("terminal job note = %q, want terminal annotation", terminal.TriageNote)
	}

	recycled, err := jobRepo.GetByID(ctx, "dl-recoverable")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if recycled.Status != domain.JobStatusQueued {
		t.Errorf("recycled job status = %s, want queued", recycled.Status)
	}
	if recycled.Attempts != 0 {
		t.Errorf("recycled job attempts = %d, want 0", recycled.Attempts)
	}
	if recycled.Priority != 200 {
		t.Errorf("recycled job priority = %d, want 200", recycled.Priority)
	}

	// Annotated rows are never picked up by a second sweep.
	again, err := worker.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if again.Scanned != 0 {
		t.Errorf("second sweep scanned %d jobs, want 0", again.Scanned)
	}
}
