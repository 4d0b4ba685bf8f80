package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkoval/leadpilot/internal/config"
	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/logger"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/dkoval/leadpilot/internal/telemetry"
	"github.com/go-resty/resty/v2"
)

// Sink delivers one outbox event to the external mirror. It must be
// idempotent on the event's idempotency key.
type Sink interface {
	Deliver(ctx context.Context, event domain.OutboxEvent) error
}

// HTTPSink posts events to a configured endpoint.
type HTTPSink struct {
	client *resty.Client
	url    string
}

// NewHTTPSink creates a sink client for the configured endpoint.
// Parameters:
//   - cfg: outbox configuration carrying the sink URL, token and timeout.
// Returns:
//   - *HTTPSink: initialized sink.
func NewHTTPSink(cfg config.OutboxConfig) *HTTPSink {
	client := resty.New()
	client.SetTimeout(cfg.RequestTimeout)
	client.SetHeader("Content-Type", "application/json")
	if cfg.SinkToken != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.SinkToken)
	}
	return &HTTPSink{client: client, url: cfg.SinkURL}
}

// sinkEnvelope is the wire format accepted by the sink endpoint.
type sinkEnvelope struct {
	Topic          string          `json:"topic"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Deliver posts one event. Any non-2xx response is a delivery failure.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - event: outbox event to deliver.
// Returns:
//   - error: non-nil if the request failed or the sink rejected it.
func (s *HTTPSink) Deliver(ctx context.Context, event domain.OutboxEvent) error {
	body := sinkEnvelope{
		Topic:          event.Topic,
		Payload:        json.RawMessage(event.Payload),
		IdempotencyKey: event.IdempotencyKey,
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to call outbox sink: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("outbox sink error: status %d", resp.StatusCode())
	}
	return nil
}

// OutboxRelay polls undelivered events and pushes them to the sink with
// independent retry/backoff. Relay failures never surface to the job layer.
type OutboxRelay struct {
	cfg        config.OutboxConfig
	outboxRepo *repository.OutboxRepository
	sink       Sink
	logger     *logger.Logger
}

// NewOutboxRelay creates a new OutboxRelay.
// Parameters:
//   - cfg: relay tuning (batch size, retry ceiling, backoff, alerting).
//   - outboxRepo: outbox persistence.
//   - sink: delivery target.
//   - log: logger instance.
// Returns:
//   - *OutboxRelay: initialized relay.
func NewOutboxRelay(cfg config.OutboxConfig, outboxRepo *repository.OutboxRepository, sink Sink, log *logger.Logger) *OutboxRelay {
	return &OutboxRelay{
		cfg:        cfg,
		outboxRepo: outboxRepo,
		sink:       sink,
		logger:     log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (r *OutboxRelay) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return r.logger
}

// RelayResult summarizes one RelayOnce invocation.
type RelayResult struct {
	Delivered int
	Failed    int
	Permanent int
}

// RelayOnce processes one batch of due events.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - RelayResult: delivery counts for the batch.
//   - error: non-nil if the batch fetch or a status update fails.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (RelayResult, error) {
	var result RelayResult
	events, err := r.outboxRepo.FetchUndelivered(ctx, r.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for _, event := range events {
		if err := r.sink.Deliver(ctx, event); err != nil {
			attempts := event.Attempts + 1
			telemetry.OutboxFailed.Inc()
			if attempts >= r.cfg.MaxRetries {
				// Terminal: consume the row so it stops retrying, tagged
				// distinctly from a successful delivery.
				telemetry.OutboxPermanent.Inc()
				if uerr := r.outboxRepo.MarkPermanentlyFailed(ctx, event.ID, attempts, err.Error()); uerr != nil {
					return result, uerr
				}
				result.Permanent++
				r.log(ctx).WithFields(logger.Fields{
					"event_id": event.ID,
					"topic":    event.Topic,
				}).WithError(err).Error("Outbox event permanently failed")
				continue
			}
			next := time.Now().UTC().Add(retryBackoff(r.cfg.BackoffBase, 0, attempts))
			if uerr := r.outboxRepo.MarkFailed(ctx, event.ID, attempts, next, err.Error()); uerr != nil {
				return result, uerr
			}
			result.Failed++
			continue
		}

		if err := r.outboxRepo.MarkDelivered(ctx, event.ID); err != nil {
			return result, err
		}
		telemetry.OutboxDelivered.Inc()
		result.Delivered++
	}

	backlog, err := r.outboxRepo.BacklogCount(ctx)
	if err == nil {
		telemetry.OutboxBacklogGauge.Set(float64(backlog))
		if r.cfg.AlertBacklog > 0 && backlog > int64(r.cfg.AlertBacklog) {
			r.log(ctx).WithFields(logger.Fields{
				"backlog":   backlog,
				"threshold": r.cfg.AlertBacklog,
			}).Error("Outbox backlog crossed alert threshold")
		}
	}

	return result, nil
}

// Run polls on the configured interval until the context ends.
// Parameters:
//   - ctx: context whose cancellation stops the loop.
// Returns: none.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.log(ctx).WithError(err).Error("Outbox relay pass failed")
			}
		}
	}
}
