package service

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/telemetry"
)

// terminalMarkers identify failures no retry can fix.
var terminalMarkers = []string{
	"not found",
	"404",
	"banned",
	"restricted",
	"invalid input",
	"invalid payload",
}

// recoverableMarkers identify failures a later run may get past.
var recoverableMarkers = []string{
	"timeout",
	"etimedout",
	"network",
	"connection reset",
	"econnreset",
	"rate limit",
	"rate_limited",
	"502",
	"503",
	"504",
}

// TriageClass is the classification of a dead-lettered job's last error.
type TriageClass string

const (
	TriageTerminal    TriageClass = "terminal"
	TriageRecoverable TriageClass = "recoverable"
)

// ClassifyError buckets an error message as terminal or recoverable.
// Unknown errors default to recoverable: a future fix may resolve them.
// Parameters:
//   - message: last error text recorded on the job.
// Returns:
//   - TriageClass: classification used by the sweep.
func ClassifyError(message string) TriageClass {
	lower := strings.ToLower(message)
	for _, marker := range terminalMarkers {
		if strings.Contains(lower, marker) {
			return TriageTerminal
		}
	}
	for _, marker := range recoverableMarkers {
		if strings.Contains(lower, marker) {
			return TriageRecoverable
		}
	}
	return TriageRecoverable
}

// TriageWorker sweeps exhausted dead-letter jobs and either recycles them
// back to the queue or annotates them as permanently failed.
type TriageWorker struct {
	cfg              config.TriageConfig
	recycledPriority int
	jobRepo          *repository.JobRepository
	logger           *logger.Logger
}

// NewTriageWorker creates a new TriageWorker.
// Parameters:
//   - cfg: triage tuning (batch size, recycle delay/jitter).
//   - recycledPriority: lowered priority assigned to recycled jobs.
//   - jobRepo: job persistence.
//   - log: logger instance.
// Returns:
//   - *TriageWorker: initialized worker.
func NewTriageWorker(cfg config.TriageConfig, recycledPriority int, jobRepo *repository.JobRepository, log *logger.Logger) *TriageWorker {
	return &TriageWorker{
		cfg:              cfg,
		recycledPriority: recycledPriority,
		jobRepo:          jobRepo,
		logger:           log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (w *TriageWorker) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return w.logger
}

// SweepResult summarizes one Sweep invocation.
type SweepResult struct {
	Scanned  int
	Recycled int
	Terminal int
}

// Sweep drains the unclassified dead-letter backlog in batches, stopping
// once a fetched batch comes back smaller than the batch size.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - SweepResult: counts of processed jobs.
//   - error: non-nil if a batch fetch or update fails.
func (w *TriageWorker) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		batch, err := w.jobRepo.FetchDeadLetterBatch(ctx, w.cfg.BatchSize)
		if err != nil {
			return result, err
		}

		for _, job := range batch {
			result.Scanned++
			switch ClassifyError(job.LastError) {
			case TriageTerminal:
				note := "triage: terminal failure, will not retry: " + truncate(job.LastError, 200)
				if err := w.jobRepo.MarkTerminal(ctx, job.ID, note); err != nil {
					return result, err
				}
				result.Terminal++
			default:
				delay := w.cfg.RecycleDelay
				if w.cfg.RecycleJitter > 0 {
					delay += time.Duration(rand.Int63n(int64(w.cfg.RecycleJitter)))
				}
				note := "triage: recoverable failure, recycled"
				if err := w.jobRepo.Recycle(ctx, job.ID, w.recycledPriority, delay, note); err != nil {
					return result, err
				}
				telemetry.JobsRecycled.Inc()
				result.Recycled++
			}
		}

		if len(batch) < w.cfg.BatchSize {
			break
		}
	}

	if result.Scanned > 0 {
		w.log(ctx).WithFields(logger.Fields{
			"scanned":  result.Scanned,
			"recycled": result.Recycled,
			"terminal": result.Terminal,
		}).Info("Dead letter triage sweep finished")
	}
	return result, nil
}

// Run executes sweeps on the configured interval until the context ends.
// Parameters:
//   - ctx: context whose cancellation stops the loop.
// Returns: none.
func (w *TriageWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log(ctx).WithError(err).Error("Triage sweep failed")
			}
		}
	}
}

// truncate shortens s for storage in annotation columns.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
