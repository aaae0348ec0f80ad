package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/hazyhaar/plates/horosafe"
	"github.com/hazyhaar/plates/platewatch/detection"
)

// ErrRejected is wrapped by DispatchError when the listener answered with a
// status other than 200 or 201.
var ErrRejected = errors.New("sink: rejected by listener")

// Webhook POSTs each record as JSON to a listener. A record is sent once;
// the poll loop owns retries.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookTimeout bounds one delivery. Default: 5s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{},
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, rec detection.FinalRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &DispatchError{Plate: rec.Plate, Err: fmt.Errorf("marshal: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{Plate: rec.Plate, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &DispatchError{Plate: rec.Plate, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := horosafe.LimitedReadAll(resp.Body, 4<<10)
		w.logger.Warn("webhook: bad status", "plate", rec.Plate, "status", resp.StatusCode, "body", string(msg))
		return &DispatchError{Plate: rec.Plate, Status: resp.StatusCode, Err: ErrRejected}
	}
	io.Copy(io.Discard, resp.Body)
	w.logger.Info("webhook: record delivered", "plate", rec.Plate,
		"make", rec.Make.String(), "model", rec.Model.String())
	return nil
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
