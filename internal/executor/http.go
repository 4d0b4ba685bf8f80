package executor

import (
	"context"
	"fmt"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/go-resty/resty/v2"
)

// HTTPExecutor delegates job execution to the external worker service that
// owns the browser-automation layer. All pacing, fingerprinting, and DOM
// work happens on the worker side; this adapter only translates outcomes
// into the orchestrator's error types.
type HTTPExecutor struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPExecutor creates an executor backed by the worker service.
// Parameters:
//   - cfg: worker base URL, auth token, and request timeout.
// Returns:
//   - *HTTPExecutor: initialized executor.
func NewHTTPExecutor(cfg config.WorkerConfig) *HTTPExecutor {
	client := resty.New()
	client.SetTimeout(cfg.RequestTimeout)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}
	return &HTTPExecutor{client: client, baseURL: cfg.BaseURL}
}

type httpSession struct {
	id     string
	client *resty.Client
	url    string
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// executeResponse is the worker's outcome envelope. Challenge and policy
// signals ride on the same response so the worker never needs to encode
// orchestrator error types.
type executeResponse struct {
	Success        bool          `json:"success"`
	ProcessedCount int           `json:"processed_count"`
	Errors         []ActionError `json:"errors,omitempty"`
	Challenge      bool          `json:"challenge,omitempty"`
	Retryable      bool          `json:"retryable,omitempty"`
	Code           string        `json:"code,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// OpenSession opens and authenticates a worker session for the account.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: account profile to authenticate as.
// Returns:
//   - Session: open session handle.
//   - error: non-nil if the worker rejected the session.
func (e *HTTPExecutor) OpenSession(ctx context.Context, accountID string) (Session, error) {
	var out sessionResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"account_id": accountID}).
		SetResult(&out).
		Post(e.baseURL + "/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to call worker: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("worker session error: status %d: %s", resp.StatusCode(), out.Error)
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("worker returned empty session id")
	}
	return &httpSession{id: out.SessionID, client: e.client, url: e.baseURL}, nil
}

// VerifyAuth confirms the session is still authenticated.
func (s *httpSession) VerifyAuth(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/v1/sessions/%s/auth", s.url, s.id))
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("session auth check failed: status %d", resp.StatusCode())
	}
	return nil
}

// Close releases the worker session.
func (s *httpSession) Close(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("%s/v1/sessions/%s", s.url, s.id))
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 204 {
		return fmt.Errorf("session close failed: status %d", resp.StatusCode())
	}
	return nil
}

// Execute performs one job on the worker and maps its outcome envelope to
// the orchestrator's error types.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - session: open session the job runs in.
//   - jobType: job type discriminator.
//   - payload: decoded typed payload.
// Returns:
//   - Result: structured outcome when the job completed.
//   - error: *ChallengeDetectedError, *RetryableWorkerError, or a plain error.
func (e *HTTPExecutor) Execute(ctx context.Context, session Session, jobType string, payload interface{}) (Result, error) {
	hs, ok := session.(*httpSession)
	if !ok {
		return Result{}, fmt.Errorf("unexpected session type %T", session)
	}

	var out executeResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"session_id": hs.id,
			"job_type":   jobType,
			"payload":    payload,
		}).
		SetResult(&out).
		SetError(&out).
		Post(e.baseURL + "/v1/execute")
	if err != nil {
		return Result{}, fmt.Errorf("failed to call worker: %w", err)
	}

	if out.Challenge {
		return Result{}, &ChallengeDetectedError{Message: out.Error}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		if out.Retryable || out.Code != "" {
			return Result{}, &RetryableWorkerError{Message: out.Error, Code: out.Code}
		}
		return Result{}, fmt.Errorf("worker execute error: status %d: %s", resp.StatusCode(), out.Error)
	}
	if !out.Success {
		if out.Retryable || out.Code != "" {
			return Result{}, &RetryableWorkerError{Message: out.Error, Code: out.Code}
		}
		return Result{}, fmt.Errorf("job execution failed: %s", out.Error)
	}

	return Result{
		Success:        true,
		ProcessedCount: out.ProcessedCount,
		Errors:         out.Errors,
	}, nil
}

// RunFollowUps triggers the worker's post-drain follow-up phase.
func (e *HTTPExecutor) RunFollowUps(ctx context.Context, session Session, accountID string) error {
	hs, ok := session.(*httpSession)
	if !ok {
		return fmt.Errorf("unexpected session type %T", session)
	}

	var out executeResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"session_id": hs.id,
			"account_id": accountID,
		}).
		SetResult(&out).
		SetError(&out).
		Post(e.baseURL + "/v1/follow-ups")
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	if out.Challenge {
		return &ChallengeDetectedError{Message: out.Error}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("worker follow-up error: status %d: %s", resp.StatusCode(), out.Error)
	}
	return nil
}

// Maintenance asks the worker to reclaim session resources.
func (e *HTTPExecutor) Maintenance(ctx context.Context, session Session) error {
	hs, ok := session.(*httpSession)
	if !ok {
		return fmt.Errorf("unexpected session type %T", session)
	}

	resp, err := e.client.R().
		SetContext(ctx).
		Post(fmt.Sprintf("%s/v1/sessions/%s/maintenance", e.baseURL, hs.id))
	if err != nil {
		return fmt.Errorf("failed to call worker: %w", err)
	}
	if resp.StatusCode() != 200 && resp.StatusCode() != 204 {
		return fmt.Errorf("worker maintenance error: status %d", resp.StatusCode())
	}
	return nil
}
