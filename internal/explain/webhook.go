// Package explain hands significant movements and their correlated news to
// an external text-generation service and publishes what comes back.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// Explainer turns one movement record into a human-readable explanation
type Explainer interface {
	Explain(ctx context.Context, rec market.MovementRecord) (market.Explanation, error)
}

// ErrIncomplete is returned when the collaborator answers without text or
// confidence
var ErrIncomplete = errors.New("explanation response missing text or confidence")

type request struct {
	Movement    market.MovementEvent     `json:"movement"`
	Correlation market.CorrelationResult `json:"correlation"`
}

type response struct {
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// WebhookExplainer POSTs the record as JSON and expects {text, confidence}
type WebhookExplainer struct {
	url    string
	client *http.Client
	retry  RetryConfig
	header http.Header
	now    func() time.Time
}

// NewWebhookExplainer creates an explainer for url. timeout bounds each
// attempt.
func NewWebhookExplainer(url string, timeout time.Duration, retry RetryConfig) *WebhookExplainer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookExplainer{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
		header: http.Header{},
		now:    time.Now,
	}
}

// SetHeader adds a header sent with every request, e.g. Authorization
func (w *WebhookExplainer) SetHeader(key, value string) { w.header.Set(key, value) }

// Explain implements Explainer. The returned text and confidence are only
// checked for presence.
func (w *WebhookExplainer) Explain(ctx context.Context, rec market.MovementRecord) (market.Explanation, error) {
	body, err := json.Marshal(request{Movement: rec.Movement, Correlation: rec.Correlation})
	if err != nil {
		return market.Explanation{}, fmt.Errorf("marshal movement %s: %w", rec.Movement.ID, err)
	}

	resp, err := doWithRetry(ctx, w.client, w.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, vs := range w.header {
			req.Header[k] = vs
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return market.Explanation{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return market.Explanation{}, fmt.Errorf("explanation service returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return market.Explanation{}, fmt.Errorf("decode explanation: %w", err)
	}
	if out.Text == nil || out.Confidence == nil {
		return market.Explanation{}, ErrIncomplete
	}
	return market.Explanation{
		MovementID: rec.Movement.ID,
		Text:       *out.Text,
		Confidence: *out.Confidence,
		ReceivedAt: w.now(),
	}, nil
}
