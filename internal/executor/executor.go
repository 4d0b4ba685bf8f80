// Package executor defines the contract between the orchestration core and
// the external browser-automation layer that performs DOM-level actions.
// The orchestrator never inspects sessions beyond this interface.
package executor

import (
	"context"
	"fmt"
)

// Result is the structured outcome of one executed job.
type Result struct {
	Success        bool
	ProcessedCount int
	Errors         []ActionError
}

// ActionError describes one partial failure inside an otherwise completed job.
type ActionError struct {
	Message string `json:"message"`
}

// PartialFailure reports whether the job completed but some of its actions failed.
func (r Result) PartialFailure() bool {
	return r.Success && len(r.Errors) > 0
}

// ChallengeDetectedError signals that the platform presented a verification
// or captcha challenge. The runner treats this as an immediate quarantine
// trigger, never as a retryable failure.
type ChallengeDetectedError struct {
	Message string
}

// Error implements the error interface.
func (e *ChallengeDetectedError) Error() string {
	if e.Message == "" {
		return "platform challenge detected"
	}
	return e.Message
}

// Policy codes carried by RetryableWorkerError.
const (
	CodeWeeklyCapReached = "weekly_cap_reached"
	CodeRateLimited      = "rate_limited"
)

// RetryableWorkerError signals a failure the runner may retry, optionally
// tagged with a policy code consumed by the risk engine (e.g. a quota
// signal that pauses automation before the retry is scheduled).
type RetryableWorkerError struct {
	Message string
	Code    string
}

// Error implements the error interface.
func (e *RetryableWorkerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Session is an open authenticated session against the external platform.
type Session interface {
	// VerifyAuth confirms the session is still authenticated.
	VerifyAuth(ctx context.Context) error
	// Close releases the session's resources.
	Close(ctx context.Context) error
}

// Executor runs typed jobs against an open session. Implementations own all
// human-pacing and anti-detection behavior.
type Executor interface {
	// OpenSession opens and authenticates a session for the account.
	OpenSession(ctx context.Context, accountID string) (Session, error)
	// Execute performs one job. It returns a Result, or an error that may be
	// a *ChallengeDetectedError or *RetryableWorkerError.
	Execute(ctx context.Context, session Session, jobType string, payload interface{}) (Result, error)
	// RunFollowUps performs the one-shot post-drain follow-up phase.
	RunFollowUps(ctx context.Context, session Session, accountID string) error
	// Maintenance performs periodic non-blocking resource reclamation.
	Maintenance(ctx context.Context, session Session) error
}
