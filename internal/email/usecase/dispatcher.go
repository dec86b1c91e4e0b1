package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mailguard-backend/internal/email/dto"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const dispatchTimeout = 30 * time.Second

// webhookDispatcher implements Dispatcher interface. Fire-and-forget: one
// POST per run per connection, no retry. The breaker keeps a flapping
// classifier endpoint from dragging every sync run through a full timeout.
type webhookDispatcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewDispatcher creates a new instance of webhookDispatcher
func NewDispatcher(log zerolog.Logger) Dispatcher {
	settings := gobreaker.Settings{
		Name:        "classification-webhook",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &webhookDispatcher{
		client:  &http.Client{Timeout: dispatchTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

func (d *webhookDispatcher) Dispatch(ctx context.Context, webhookURL string, payload *dto.WebhookPayload) error {
	if webhookURL == "" {
		return errors.New("no webhook URL configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = d.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", webhookURL, err)
	}

	d.log.Debug().Str("webhook", webhookURL).Int("emails", len(payload.Emails)).Msg("classification batch dispatched")
	return nil
}
