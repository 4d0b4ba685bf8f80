package service

import (
	"context"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/telemetry"
)

// RiskAction is the discrete decision produced by the risk engine.
type RiskAction string

const (
	RiskActionNormal     RiskAction = "normal"
	RiskActionThrottle   RiskAction = "throttle"
	RiskActionPause      RiskAction = "pause"
	RiskActionQuarantine RiskAction = "quarantine"
)

// RiskInputs are the rolling-window signals feeding the composite score.
type RiskInputs struct {
	PendingInviteRatio float64
	ErrorRate24h       float64
	ActionFailureRate  float64
	ChallengesToday    int
	InviteVelocity     float64 // invites today / configured hard cap
}

// RiskEngine computes a composite risk score from persisted metrics and
// drives pause/quarantine decisions. Two signals bypass the score entirely:
// challenge detection and a run of consecutive job failures.
type RiskEngine struct {
	cfg       config.RiskConfig
	statsRepo *repository.StatsRepository
	jobRepo   *repository.JobRepository
	leadRepo  *repository.LeadRepository
	flagsRepo *repository.FlagsRepository
	logger    *logger.Logger
}

// NewRiskEngine creates a new RiskEngine.
// Parameters:
//   - cfg: risk thresholds; all values are configuration, not constants.
//   - statsRepo: daily counters source.
//   - jobRepo: attempt-window source.
//   - leadRepo: lead-status counts source.
//   - flagsRepo: persisted pause/quarantine flags.
//   - log: logger instance.
// Returns:
//   - *RiskEngine: initialized engine.
func NewRiskEngine(cfg config.RiskConfig, statsRepo *repository.StatsRepository, jobRepo *repository.JobRepository, leadRepo *repository.LeadRepository, flagsRepo *repository.FlagsRepository, log *logger.Logger) *RiskEngine {
	return &RiskEngine{
		cfg:       cfg,
		statsRepo: statsRepo,
		jobRepo:   jobRepo,
		leadRepo:  leadRepo,
		flagsRepo: flagsRepo,
		logger:    log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (e *RiskEngine) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return e.logger
}

// CollectInputs gathers the rolling-window signals for an account.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account to evaluate.
// Returns:
//   - RiskInputs: current signal values.
//   - error: non-nil if any source query fails.
func (e *RiskEngine) CollectInputs(ctx context.Context, accountID string) (RiskInputs, error) {
	var in RiskInputs

	invited, err := e.leadRepo.CountByStatus(ctx, accountID, domain.LeadStatusInvited)
	if err != nil {
		return in, err
	}
	accepted, err := e.leadRepo.CountByStatus(ctx, accountID, domain.LeadStatusAccepted)
	if err != nil {
		return in, err
	}
	if total := invited + accepted; total > 0 {
		in.PendingInviteRatio = float64(invited) / float64(total)
	}

	attempts, err := e.jobRepo.AttemptStatsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return in, err
	}
	if attempts.Total > 0 {
		in.ErrorRate24h = float64(attempts.Failures) / float64(attempts.Total)
		in.ActionFailureRate = in.ErrorRate24h
	}

	today, err := e.statsRepo.ForDay(ctx, accountID, domain.StatsDate(time.Now()))
	if err != nil {
		return in, err
	}
	in.ChallengesToday = today.Challenges
	if e.cfg.DailyInviteHardCap > 0 {
		in.InviteVelocity = float64(today.InvitesSent) / float64(e.cfg.DailyInviteHardCap)
	}

	return in, nil
}

// Score folds the inputs into a composite in [0, 1+]. Each signal
// contributes its normalized excess over the configured maximum.
// Parameters:
//   - in: collected signal values.
// Returns:
//   - float64: composite risk score.
func (e *RiskEngine) Score(in RiskInputs) float64 {
	score := 0.0
	score += 0.25 * ratio(in.PendingInviteRatio, e.cfg.PendingInviteRatioMax)
	score += 0.25 * ratio(in.ErrorRate24h, e.cfg.ErrorRate24hMax)
	score += 0.20 * ratio(in.ActionFailureRate, e.cfg.ActionFailureRateMax)
	score += 0.30 * clamp(in.InviteVelocity)
	if in.ChallengesToday > 0 {
		score += 0.5 * float64(in.ChallengesToday)
	}
	return score
}

func ratio(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp(value / max)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Evaluate maps the composite score for an account onto a discrete action.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account to evaluate.
// Returns:
//   - RiskAction: decision derived from the score thresholds.
//   - error: non-nil if input collection fails.
func (e *RiskEngine) Evaluate(ctx context.Context, accountID string) (RiskAction, error) {
	in, err := e.CollectInputs(ctx, accountID)
	if err != nil {
		return RiskActionNormal, err
	}
	score := e.Score(in)
	action := e.actionForScore(score)
	if action != RiskActionNormal {
		e.log(ctx).WithFields(logger.Fields{
			logger.FieldAccountID: accountID,
			"score":               score,
			"action":              action,
		}).Warn("Risk score crossed threshold")
	}
	return action, nil
}

func (e *RiskEngine) actionForScore(score float64) RiskAction {
	switch {
	case score >= e.cfg.QuarantineScore:
		return RiskActionQuarantine
	case score >= e.cfg.PauseScore:
		return RiskActionPause
	case score >= e.cfg.ThrottleScore:
		return RiskActionThrottle
	default:
		return RiskActionNormal
	}
}

// TriggerQuarantine persists quarantine plus the global pause. Challenge
// detection calls this directly, bypassing the composite score. The state
// survives restarts and affects every subsequent invocation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account that triggered quarantine.
//   - reason: why quarantine was raised.
// Returns:
//   - error: non-nil if flag persistence fails.
func (e *RiskEngine) TriggerQuarantine(ctx context.Context, accountID, reason string) error {
	until := time.Now().UTC().Add(e.cfg.QuarantineDuration)
	if err := e.flagsRepo.Set(ctx, domain.FlagQuarantine, &until, reason, accountID); err != nil {
		return err
	}
	if err := e.flagsRepo.Set(ctx, domain.FlagGlobalPause, &until, reason, accountID); err != nil {
		return err
	}
	e.log(ctx).WithFields(logger.Fields{
		logger.FieldAccountID: accountID,
		"reason":              reason,
		"until":               until,
	}).Error("Quarantine triggered")
	return nil
}

// OpenCircuit persists a timed global pause after a run of consecutive
// failures. Independent of the long-window score.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account whose loop tripped the breaker.
//   - reason: failure summary.
// Returns:
//   - error: non-nil if flag persistence fails.
func (e *RiskEngine) OpenCircuit(ctx context.Context, accountID, reason string) error {
	telemetry.CircuitOpens.Inc()
	until := time.Now().UTC().Add(e.cfg.CircuitPauseDuration)
	if err := e.flagsRepo.Set(ctx, domain.FlagGlobalPause, &until, reason, accountID); err != nil {
		return err
	}
	e.log(ctx).WithFields(logger.Fields{
		logger.FieldAccountID: accountID,
		"reason":              reason,
		"until":               until,
	}).Error("Circuit breaker opened")
	return nil
}

// TriggerScorePause persists a timed global pause when the composite score
// crosses the pause threshold but stays below quarantine.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account whose score crossed the threshold.
//   - reason: score summary.
// Returns:
//   - error: non-nil if flag persistence fails.
func (e *RiskEngine) TriggerScorePause(ctx context.Context, accountID, reason string) error {
	until := time.Now().UTC().Add(e.cfg.ScorePauseDuration)
	if err := e.flagsRepo.Set(ctx, domain.FlagGlobalPause, &until, reason, accountID); err != nil {
		return err
	}
	e.log(ctx).WithFields(logger.Fields{
		logger.FieldAccountID: accountID,
		"reason":              reason,
		"until":               until,
	}).Warn("Score pause triggered")
	return nil
}

// TriggerPolicyPause persists a long pause for quota/rate policy signals.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account the policy signal came from.
//   - reason: policy code and message.
// Returns:
//   - error: non-nil if flag persistence fails.
func (e *RiskEngine) TriggerPolicyPause(ctx context.Context, accountID, reason string) error {
	until := time.Now().UTC().Add(e.cfg.PolicyPauseDuration)
	return e.flagsRepo.Set(ctx, domain.FlagGlobalPause, &until, reason, accountID)
}

// ConsecutiveFailureLimit exposes the configured breaker threshold.
func (e *RiskEngine) ConsecutiveFailureLimit() int {
	return e.cfg.ConsecutiveFailureLimit
}
