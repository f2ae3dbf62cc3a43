package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Webhook signature headers
const (
	HeaderTimestamp = "X-Vigil-Timestamp"
	HeaderSignature = "X-Vigil-Signature"
)

// WebhookConfig configures a webhook sink
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// RatePerSecond bounds outbound requests; zero disables the limiter
	RatePerSecond float64
	Burst         int
	Breaker       BreakerConfig
}

// Webhook POSTs signed alert messages to an HTTP endpoint
type Webhook struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *Breaker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewWebhook validates the endpoint and creates the sink
func NewWebhook(cfg WebhookConfig, logger *zap.SugaredLogger) (*Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	w := &Webhook{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: NewBreaker(cfg.Breaker),
		logger:  logger,
		now:     time.Now,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return w, nil
}

// Name identifies the sink in logs and metrics
func (w *Webhook) Name() string {
	return "webhook"
}

// Send delivers one message. Non-2xx responses are errors.
func (w *Webhook) Send(ctx context.Context, msg AlertMessage) error {
	if err := w.breaker.Allow(); err != nil {
		return err
	}
	err := w.send(ctx, msg)
	if from, to := w.breaker.Record(err); from != to {
		w.logger.Warnw("Webhook circuit breaker state changed", "url", w.cfg.URL, "from", from, "to", to)
	}
	return err
}

func (w *Webhook) send(ctx context.Context, msg AlertMessage) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(w.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	if w.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(w.cfg.Secret, timestamp, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if err := resp.Body.Close(); err != nil {
			w.logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the signature header value for a body sent at timestamp:
// "sha256=" followed by the hex HMAC-SHA256 of timestamp + "." + body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
