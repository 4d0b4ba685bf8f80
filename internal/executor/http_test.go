package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
)

// newWorkerServer fakes the worker service: sessions always open, and
// /v1/execute replies with the configured envelope and status.
func newWorkerServer(t *testing.T, status int, envelope executeResponse) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{SessionID: "sess-1"})
	})
	mux.HandleFunc("/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(envelope)
	})
	return httptest.NewServer(mux)
}

func newTestExecutor(url string) *HTTPExecutor {
	return NewHTTPExecutor(config.WorkerConfig{
		BaseURL:        url,
		RequestTimeout: 5 * time.Second,
	})
}

func openTestSession(t *testing.T, exec *HTTPExecutor) Session {
	t.Helper()
	session, err := exec.OpenSession(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	return session
}

func TestExecuteSuccess(t *testing.T) {
	server := newWorkerServer(t, http.StatusOK, executeResponse{Success: true, ProcessedCount: 3})
	defer server.Close()
	exec := newTestExecutor(server.URL)
	session := openTestSession(t, exec)

	result, err := exec.Execute(context.Background(), session, "send_invite", map[string]string{"lead_id": "lead-1"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.Success || result.ProcessedCount != 3 {
		t.Errorf("result = %+v", result)
	}
	if result.PartialFailure() {
		t.Error("result without action errors is not a partial failure")
	}
}

func TestExecutePartialFailure(t *testing.T) {
	server := newWorkerServer(t, http.StatusOK, executeResponse{
		Success:        true,
		ProcessedCount: 2,
		Errors:         []ActionError{{Message: "one profile unavailable"}},
	})
	defer server.Close()
	exec := newTestExecutor(server.URL)
	session := openTestSession(t, exec)

	result, err := exec.Execute(context.Background(), session, "send_message", nil)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !result.PartialFailure() {
		t.Error("completed job with action errors should report partial failure")
	}
}

func TestExecuteChallengeMapsToTypedError(t *testing.T) {
	server := newWorkerServer(t, http.StatusOK, executeResponse{Challenge: true, Error: "checkpoint page"})
	defer server.Close()
	exec := newTestExecutor(server.URL)
	session := openTestSession(t, exec)

	_, err := exec.Execute(context.Background(), session, "send_invite", nil)
	var challenge *ChallengeDetectedError
	if !errors.As(err, &challenge) {
		t.Fatalf("error = %v, want *ChallengeDetectedError", err)
	}
	if challenge.Message != "checkpoint page" {
		t.Errorf("challenge message = %q", challenge.Message)
	}
}

func TestExecutePolicyCodeMapsToRetryable(t *testing.T) {
	server := newWorkerServer(t, http.StatusTooManyRequests, executeResponse{
		Retryable: true,
		Code:      CodeWeeklyCapReached,
		Error:     "weekly invitation limit reached",
	})
	defer server.Close()
	exec := newTestExecutor(server.URL)
	session := openTestSession(t, exec)

	_, err := exec.Execute(context.Background(), session, "send_invite", nil)
	var retryable *RetryableWorkerError
	if !errors.As(err, &retryable) {
		t.Fatalf("error = %v, want *RetryableWorkerError", err)
	}
	if retryable.Code != CodeWeeklyCapReached {
		t.Errorf("code = %q, want %q", retryable.Code, CodeWeeklyCapReached)
	}
}

func TestExecutePlainFailure(t *testing.T) {
	server := newWorkerServer(t, http.StatusOK, executeResponse{Success: false, Error: "selector missing"})
	defer server.Close()
	exec := newTestExecutor(server.URL)
	session := openTestSession(t, exec)

	_, err := exec.Execute(context.Background(), session, "send_invite", nil)
	if err == nil {
		t.Fatal("unsuccessful job should return an error")
	}
	var challenge *ChallengeDetectedError
	var retryable *RetryableWorkerError
	if errors.As(err, &challenge) || errors.As(err, &retryable) {
		t.Errorf("plain failure must not map to a typed error, got %T", err)
	}
}

func TestOpenSessionRejectsEmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sessionResponse{})
	}))
	defer server.Close()
	exec := newTestExecutor(server.URL)

	if _, err := exec.OpenSession(context.Background(), "acct-1"); err == nil {
		t.Error("empty session id should be rejected")
	}
}
