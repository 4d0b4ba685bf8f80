package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/executor"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/mirror"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/telemetry"
	"github.com/google/uuid"
)

// ErrLockLost aborts a pass when the runtime lock heartbeat fails. Losing
// the lock mid-run must never result in two processes mutating the same job.
var ErrLockLost = errors.New("runtime lock lost")

// Runner is the orchestrator loop. One runner instance processes all
// configured account profiles sequentially within a single pass, guarded by
// the cross-process runtime lock.
type Runner struct {
	cfg     config.RunnerConfig
	lockCfg config.LockConfig

	jobRepo    *repository.JobRepository
	outboxRepo *repository.OutboxRepository
	statsRepo  *repository.StatsRepository
	flagsRepo  *repository.FlagsRepository
	lockRepo   *repository.LockRepository
	leads      *LeadService
	risk       *RiskEngine
	exec       executor.Executor
	side       *mirror.SideChannel
	logger     *logger.Logger

	ownerID string
}

// NewRunner creates a new Runner.
// Parameters:
//   - cfg: runner tuning (accounts, pacing, backoff, staleness).
//   - lockCfg: runtime lock key/TTL/heartbeat settings.
//   - jobRepo: job queue persistence.
//   - outboxRepo: outbox persistence.
//   - statsRepo: daily counters.
//   - flagsRepo: persisted pause/quarantine flags.
//   - lockRepo: runtime lock persistence.
//   - leads: lead lifecycle service.
//   - risk: risk engine / circuit breaker.
//   - exec: external action executor.
//   - side: mirror side-channel for stats snapshots.
//   - log: logger instance.
// Returns:
//   - *Runner: initialized runner with a unique owner identity.
func NewRunner(
	cfg config.RunnerConfig,
	lockCfg config.LockConfig,
	jobRepo *repository.JobRepository,
	outboxRepo *repository.OutboxRepository,
	statsRepo *repository.StatsRepository,
	flagsRepo *repository.FlagsRepository,
	lockRepo *repository.LockRepository,
	leads *LeadService,
	risk *RiskEngine,
	exec executor.Executor,
	side *mirror.SideChannel,
	log *logger.Logger,
) *Runner {
	hostname, _ := os.Hostname()
	return &Runner{
		cfg:        cfg,
		lockCfg:    lockCfg,
		jobRepo:    jobRepo,
		outboxRepo: outboxRepo,
		statsRepo:  statsRepo,
		flagsRepo:  flagsRepo,
		lockRepo:   lockRepo,
		leads:      leads,
		risk:       risk,
		exec:       exec,
		side:       side,
		logger:     log,
		ownerID:    fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (r *Runner) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// OwnerID returns the runner's lock owner identity.
func (r *Runner) OwnerID() string {
	return r.ownerID
}

// RunPass executes one full pass over all configured accounts. The pass
// holds the runtime lock for its whole duration; a failed heartbeat aborts
// it. Returns without error when another runner already holds the lock.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - error: ErrLockLost on heartbeat failure, or a fatal store error.
func (r *Runner) RunPass(ctx context.Context) error {
	runID := uuid.New().String()[:8]
	ctx = logger.SetRunID(ctx, runID)

	acquired, err := r.lockRepo.Acquire(ctx, r.lockCfg.Key, r.ownerID, r.lockCfg.TTL, domain.Metadata{
		"hostname": hostnameOrUnknown(),
		"pid":      os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("acquire runtime lock: %w", err)
	}
	if !acquired.Acquired {
		r.log(ctx).WithFields(logger.Fields{
			"lock_key": r.lockCfg.Key,
			"owner":    acquired.Lock.OwnerID,
		}).Info("Runtime lock held by another runner, skipping pass")
		return nil
	}
	defer func() {
		released, rerr := r.lockRepo.Release(context.Background(), r.lockCfg.Key, r.ownerID)
		if rerr != nil || !released {
			r.log(ctx).WithError(rerr).Warn("Runtime lock release did not remove the row")
		}
	}()

	// A crashed predecessor leaves jobs stuck running with no live owner.
	if recovered, err := r.jobRepo.RecoverStale(ctx, r.cfg.StaleJobThreshold); err != nil {
		return fmt.Errorf("startup recovery sweep: %w", err)
	} else if recovered > 0 {
		r.log(ctx).WithFields(logger.Fields{logger.FieldCount: recovered}).Warn("Recovered stale running jobs")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go r.heartbeatLoop(runCtx, cancel)

	for _, accountID := range r.cfg.Accounts {
		if err := runCtx.Err(); err != nil {
			if cause := context.Cause(runCtx); errors.Is(cause, ErrLockLost) {
				return ErrLockLost
			}
			return err
		}

		// Quarantine raised by an earlier account skips the rest of the pass.
		quarantined, err := r.flagsRepo.InEffect(runCtx, domain.FlagQuarantine)
		if err != nil {
			return err
		}
		if quarantined {
			r.log(runCtx).Warn("Quarantine active, skipping remaining accounts")
			break
		}

		if err := r.runAccount(runCtx, accountID); err != nil {
			if errors.Is(err, ErrLockLost) || errors.Is(context.Cause(runCtx), ErrLockLost) {
				return ErrLockLost
			}
			return err
		}
	}

	if depth, err := r.jobRepo.CountByStatus(ctx, domain.JobStatusQueued); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	return nil
}

// heartbeatLoop renews the runtime lock on a cadence materially shorter
// than its TTL, and aborts the run on the first failed renewal.
func (r *Runner) heartbeatLoop(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(r.lockCfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.lockRepo.Heartbeat(ctx, r.lockCfg.Key, r.ownerID, r.lockCfg.TTL)
			if err != nil {
				r.log(ctx).WithError(err).Error("Runtime lock heartbeat errored")
				cancel(ErrLockLost)
				return
			}
			if !ok {
				r.log(ctx).Error("Runtime lock lost to another owner, aborting run")
				cancel(ErrLockLost)
				return
			}
		}
	}
}

// sessionState tracks pacing counters for one account's loop.
type sessionState struct {
	session      executor.Session
	openedAt     time.Time
	sessionJobs  int
	totalJobs    int
	consecFails  int
}

// runAccount drives the sequential loop for one account profile. Errors
// that only end this account's loop (pause, quarantine, circuit open) are
// not returned; only store failures and lock loss propagate.
func (r *Runner) runAccount(ctx context.Context, accountID string) error {
	ctx = logger.SetAccountID(ctx, accountID)

	// The composite score gates the account before a session is opened.
	action, err := r.risk.Evaluate(ctx, accountID)
	if err != nil {
		return err
	}
	throttled := false
	switch action {
	case RiskActionQuarantine:
		return r.quarantineAccount(ctx, accountID, "composite risk score at quarantine level")
	case RiskActionPause:
		return r.risk.TriggerScorePause(ctx, accountID, "composite risk score at pause level")
	case RiskActionThrottle:
		r.log(ctx).Warn("Composite risk score at throttle level, pacing down")
		throttled = true
	}

	session, err := r.exec.OpenSession(ctx, accountID)
	if err != nil {
		r.log(ctx).WithError(err).Error("Session open failed, quarantining account")
		return r.quarantineAccount(ctx, accountID, "session authentication failed: "+err.Error())
	}
	state := &sessionState{session: session, openedAt: time.Now()}
	defer func() {
		if state.session != nil {
			_ = state.session.Close(context.Background())
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Pause and quarantine are read fresh every iteration, never cached.
		paused, err := r.flagsRepo.InEffect(ctx, domain.FlagGlobalPause)
		if err != nil {
			return err
		}
		if paused {
			r.log(ctx).Info("Global pause active, stopping account loop")
			return nil
		}

		job, err := r.jobRepo.ClaimNext(ctx, r.cfg.JobTypes, accountID, r.cfg.IncludeLegacyQueue)
		if err != nil {
			return err
		}
		if job == nil {
			break
		}

		stop, err := r.processJob(ctx, accountID, state, job)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		state.sessionJobs++
		state.totalJobs++

		if throttled && r.cfg.ThrottleDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.ThrottleDelay):
			}
		}

		if r.cfg.MaintenanceCadence > 0 && state.totalJobs%r.cfg.MaintenanceCadence == 0 {
			if err := r.exec.Maintenance(ctx, state.session); err != nil {
				r.log(ctx).WithError(err).Warn("Executor maintenance failed")
			}
		}

		if r.needsRotation(state) {
			if err := r.rotateSession(ctx, accountID, state); err != nil {
				r.log(ctx).WithError(err).Error("Session rotation failed, quarantining account")
				return r.quarantineAccount(ctx, accountID, "session rotation reauthentication failed: "+err.Error())
			}
		}
	}

	r.runFollowUps(ctx, accountID, state)
	r.mirrorDailyStats(ctx, accountID)
	return nil
}

// mirrorDailyStats copies the account's counters for today to the
// side-channel after its queue drains.
func (r *Runner) mirrorDailyStats(ctx context.Context, accountID string) {
	if r.side == nil {
		return
	}
	day := domain.StatsDate(time.Now())
	stats, err := r.statsRepo.ForDay(ctx, accountID, day)
	if err != nil {
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	key := fmt.Sprintf("daily-stats/%s/%s.json", accountID, day)
	r.side.Put(ctx, key, payload)
}

// needsRotation reports whether a pacing threshold has been crossed.
func (r *Runner) needsRotation(state *sessionState) bool {
	if r.cfg.MaxJobsPerSession > 0 && state.sessionJobs >= r.cfg.MaxJobsPerSession {
		return true
	}
	if r.cfg.MaxSessionMinutes > 0 && time.Since(state.openedAt) >= time.Duration(r.cfg.MaxSessionMinutes)*time.Minute {
		return true
	}
	if r.cfg.HardJobCeiling > 0 && state.totalJobs >= r.cfg.HardJobCeiling {
		return true
	}
	return false
}

// rotateSession closes and reopens the external session, re-verifying
// authentication on the fresh one.
func (r *Runner) rotateSession(ctx context.Context, accountID string, state *sessionState) error {
	r.log(ctx).WithFields(logger.Fields{
		"session_jobs": state.sessionJobs,
		"elapsed_min":  int(time.Since(state.openedAt).Minutes()),
	}).Info("Rotating session")

	_ = state.session.Close(ctx)
	state.session = nil

	session, err := r.exec.OpenSession(ctx, accountID)
	if err != nil {
		return err
	}
	if err := session.VerifyAuth(ctx); err != nil {
		_ = session.Close(ctx)
		return err
	}
	state.session = session
	state.openedAt = time.Now()
	state.sessionJobs = 0
	return nil
}

// processJob dispatches one claimed job and applies outcome handling.
// The bool result requests an immediate stop of this account's loop.
func (r *Runner) processJob(ctx context.Context, accountID string, state *sessionState, job *domain.Job) (bool, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldJobType: job.Type,
		logger.FieldAttempt: job.Attempts + 1,
	})

	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		// Corrupt payloads dead-letter immediately: retrying cannot fix them.
		r.log(ctx).WithError(err).Error("Job payload failed to decode")
		if rerr := r.jobRepo.RecordAttempt(ctx, job.ID, false, "invalid_payload", err.Error()); rerr != nil {
			return false, rerr
		}
		if _, rerr := r.jobRepo.MarkRetryOrDeadLetter(ctx, job.ID, job.MaxAttempts, job.MaxAttempts, 0, err.Error()); rerr != nil {
			return false, rerr
		}
		telemetry.JobsDeadLettered.Inc()
		r.handleLeadOnDeadLetter(ctx, job, "invalid payload")
		r.emitJobEvent(ctx, domain.TopicJobDeadLettered, job, job.MaxAttempts, err.Error())
		state.consecFails++
		return r.checkCircuit(ctx, accountID, state)
	}

	result, execErr := r.exec.Execute(ctx, state.session, job.Type, payload)
	if execErr == nil {
		return false, r.handleSuccess(ctx, accountID, state, job, result)
	}

	var challenge *executor.ChallengeDetectedError
	if errors.As(execErr, &challenge) {
		return true, r.handleChallenge(ctx, accountID, job, challenge)
	}

	var retryable *executor.RetryableWorkerError
	if errors.As(execErr, &retryable) && retryable.Code != "" {
		// Policy signals (weekly cap, rate limits) pause automation before
		// the job is requeued; it runs again once the window lifts.
		if perr := r.risk.TriggerPolicyPause(ctx, accountID, retryable.Error()); perr != nil {
			return false, perr
		}
	}

	return r.handleFailure(ctx, accountID, state, job, execErr)
}

// handleSuccess finalizes a successful job and advances the lead lifecycle.
func (r *Runner) handleSuccess(ctx context.Context, accountID string, state *sessionState, job *domain.Job, result executor.Result) error {
	if err := r.jobRepo.MarkSucceeded(ctx, job.ID); err != nil {
		return err
	}
	if err := r.jobRepo.RecordAttempt(ctx, job.ID, true, "", ""); err != nil {
		return err
	}
	telemetry.JobsSucceeded.Inc()
	state.consecFails = 0

	switch job.Type {
	case domain.JobTypeSendInvite:
		_ = r.statsRepo.Increment(ctx, accountID, repository.CounterInvites, 1)
	case domain.JobTypeSendMessage:
		_ = r.statsRepo.Increment(ctx, accountID, repository.CounterMessages, 1)
	}

	r.advanceLead(ctx, job, result)

	topic := domain.TopicJobSucceeded
	if result.PartialFailure() {
		topic = domain.TopicJobSucceededWithErrors
	}
	r.emitJobEvent(ctx, topic, job, job.Attempts+1, "")

	r.log(ctx).WithFields(logger.Fields{
		"processed": result.ProcessedCount,
		"partial":   result.PartialFailure(),
	}).Info("Job succeeded")
	return nil
}

// advanceLead maps a successful job type onto its lead lifecycle move.
func (r *Runner) advanceLead(ctx context.Context, job *domain.Job, result executor.Result) {
	leadID := leadIDFromPayload(job)
	if leadID == "" {
		return
	}
	switch job.Type {
	case domain.JobTypeSendInvite:
		_, _ = r.leads.Transition(ctx, leadID, domain.LeadStatusInvited, "invite sent", nil)
	case domain.JobTypeSendMessage:
		_, _ = r.leads.Transition(ctx, leadID, domain.LeadStatusMessaged, "message sent", nil)
	case domain.JobTypeCheckAccepted:
		if result.ProcessedCount > 0 {
			_, _ = r.leads.Transition(ctx, leadID, domain.LeadStatusAccepted, "invite accepted", nil)
		}
	case domain.JobTypeWithdraw:
		_, _ = r.leads.Transition(ctx, leadID, domain.LeadStatusWithdrawn, "invite withdrawn", nil)
	}
}

// handleChallenge applies the platform-challenge escape path: quarantine,
// global pause, zero-delay terminal handling for the job, loop abort.
func (r *Runner) handleChallenge(ctx context.Context, accountID string, job *domain.Job, challenge *executor.ChallengeDetectedError) error {
	r.log(ctx).WithError(challenge).Error("Platform challenge detected")
	telemetry.ChallengesDetected.Inc()

	if err := r.jobRepo.RecordAttempt(ctx, job.ID, false, "challenge_detected", challenge.Error()); err != nil {
		return err
	}
	_ = r.statsRepo.Increment(ctx, accountID, repository.CounterChallenges, 1)

	if err := r.risk.TriggerQuarantine(ctx, accountID, challenge.Error()); err != nil {
		return err
	}

	// Zero-delay handling: the job retries immediately once the pause
	// lifts, or dead-letters if its budget is spent.
	status, err := r.jobRepo.MarkRetryOrDeadLetter(ctx, job.ID, job.Attempts+1, job.MaxAttempts, 0, challenge.Error())
	if err != nil {
		return err
	}
	if status == domain.JobStatusDeadLetter {
		telemetry.JobsDeadLettered.Inc()
	}

	r.emitJobEvent(ctx, domain.TopicRunnerQuarantined, job, job.Attempts+1, challenge.Error())
	return nil
}

// handleFailure applies backoff/dead-letter handling for a generic failure
// and advances the consecutive-failure circuit breaker.
func (r *Runner) handleFailure(ctx context.Context, accountID string, state *sessionState, job *domain.Job, execErr error) (bool, error) {
	r.log(ctx).WithError(execErr).Warn("Job failed")

	code := "execution_failed"
	var retryable *executor.RetryableWorkerError
	if errors.As(execErr, &retryable) && retryable.Code != "" {
		code = retryable.Code
	}
	if err := r.jobRepo.RecordAttempt(ctx, job.ID, false, code, execErr.Error()); err != nil {
		return false, err
	}
	_ = r.statsRepo.Increment(ctx, accountID, repository.CounterErrors, 1)

	attempts := job.Attempts + 1
	backoff := retryBackoff(r.cfg.BackoffBase, r.cfg.BackoffJitter, attempts)
	status, err := r.jobRepo.MarkRetryOrDeadLetter(ctx, job.ID, attempts, job.MaxAttempts, backoff, execErr.Error())
	if err != nil {
		return false, err
	}

	topic := domain.TopicJobFailed
	if status == domain.JobStatusDeadLetter {
		telemetry.JobsDeadLettered.Inc()
		r.handleLeadOnDeadLetter(ctx, job, execErr.Error())
		topic = domain.TopicJobDeadLettered
	} else {
		telemetry.JobsRetried.Inc()
	}

	r.emitJobEvent(ctx, topic, job, attempts, execErr.Error())

	state.consecFails++
	return r.checkCircuit(ctx, accountID, state)
}

// checkCircuit opens the breaker once the consecutive-failure threshold is
// crossed, stopping this account's loop.
func (r *Runner) checkCircuit(ctx context.Context, accountID string, state *sessionState) (bool, error) {
	limit := r.risk.ConsecutiveFailureLimit()
	if limit <= 0 || state.consecFails < limit {
		return false, nil
	}
	reason := fmt.Sprintf("%d consecutive job failures in one pass", state.consecFails)
	if err := r.risk.OpenCircuit(ctx, accountID, reason); err != nil {
		return false, err
	}
	return true, nil
}

// handleLeadOnDeadLetter routes a lead-affecting dead letter into review.
func (r *Runner) handleLeadOnDeadLetter(ctx context.Context, job *domain.Job, reason string) {
	if !domain.LeadAffectingJobTypes[job.Type] {
		return
	}
	leadID := leadIDFromPayload(job)
	if leadID == "" {
		return
	}
	_, _ = r.leads.Transition(ctx, leadID, domain.LeadStatusReviewRequired, "job dead-lettered: "+reason, nil)
}

// runFollowUps executes the one-shot post-drain follow-up phase. It is
// non-fatal to the run; its own challenge detection quarantines the account.
func (r *Runner) runFollowUps(ctx context.Context, accountID string, state *sessionState) {
	if state.session == nil {
		return
	}
	if err := r.exec.RunFollowUps(ctx, state.session, accountID); err != nil {
		var challenge *executor.ChallengeDetectedError
		if errors.As(err, &challenge) {
			telemetry.ChallengesDetected.Inc()
			_ = r.statsRepo.Increment(ctx, accountID, repository.CounterChallenges, 1)
			_ = r.risk.TriggerQuarantine(ctx, accountID, "follow-up phase: "+challenge.Error())
			return
		}
		r.log(ctx).WithError(err).Warn("Follow-up phase failed")
	}
}

// quarantineAccount raises quarantine for a session-level auth failure.
func (r *Runner) quarantineAccount(ctx context.Context, accountID, reason string) error {
	return r.risk.TriggerQuarantine(ctx, accountID, reason)
}

// emitJobEvent enqueues an outbox event describing a job outcome. The
// idempotency key includes the attempt number so one event exists per
// attempt outcome, while duplicate emission of the same outcome dedupes.
func (r *Runner) emitJobEvent(ctx context.Context, topic string, job *domain.Job, attempt int, errText string) {
	payload, err := json.Marshal(map[string]interface{}{
		"job_id":     job.ID,
		"job_type":   job.Type,
		"account_id": job.AccountID,
		"attempt":    attempt,
		"error":      errText,
	})
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%d", topic, job.ID, attempt)
	if _, err := r.outboxRepo.Enqueue(ctx, nil, topic, string(payload), key); err != nil {
		r.log(ctx).WithError(err).Error("Failed to enqueue outbox event")
	}
}

// leadIDFromPayload extracts the lead ID from a job's typed payload.
func leadIDFromPayload(job *domain.Job) string {
	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return ""
	}
	switch p := payload.(type) {
	case *domain.InvitePayload:
		return p.LeadID
	case *domain.MessagePayload:
		return p.LeadID
	case *domain.CheckAcceptedPayload:
		return p.LeadID
	case *domain.WithdrawPayload:
		return p.LeadID
	default:
		return ""
	}
}

func hostnameOrUnknown() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
