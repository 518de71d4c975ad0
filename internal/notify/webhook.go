// Package notify delivers price alerts to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config controls webhook delivery. An empty URL disables notifications.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Webhook posts Discord-compatible content payloads. Delivery failures are
// logged and swallowed: a dead webhook must never fail a price check.
type Webhook struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewWebhook constructs a Webhook notifier.
func NewWebhook(cfg Config, logger *zap.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// PriceDrop announces that a tracked product got cheaper.
func (w *Webhook) PriceDrop(ctx context.Context, name string, oldPrice, newPrice int, url string) {
	msg := fmt.Sprintf("【値下げ】%s\n¥%d → ¥%d\n%s", name, oldPrice, newPrice, url)
	w.post(ctx, msg)
}

// TrackingEnded announces that a product sold out and left tracking.
func (w *Webhook) TrackingEnded(ctx context.Context, name string, url string) {
	msg := fmt.Sprintf("【売り切れ】%s\nトラッキングを終了します\n%s", name, url)
	w.post(ctx, msg)
}

func (w *Webhook) post(ctx context.Context, content string) {
	if w.cfg.URL == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		w.logger.Warn("encode webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("deliver webhook", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("webhook rejected", zap.Int("status", resp.StatusCode))
		return
	}
	w.logger.Debug("webhook delivered", zap.Int("status", resp.StatusCode))
}
