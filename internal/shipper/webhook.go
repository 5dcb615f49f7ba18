// webhook.go implements the HTTP delivery sink: batched POSTs with optional
// HS256 request signing and optional OAuth2 client-credentials authentication.
package shipper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

// SignatureHeader carries the detached HS256 JWT over the request body when a
// signing key is configured. Receivers verify it with the shared key and
// compare the embedded digest against the body they received.
const SignatureHeader = "X-Fieldtrace-Signature"

// WebhookShipper delivers envelopes to an HTTP endpoint
type WebhookShipper struct {
	cfg       *config.WebhookShipperConfig
	client    *http.Client
	batchCh   chan *Envelope
	batch     []*Envelope
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a new webhook shipper. When OAuth2 client
// credentials are configured the HTTP client transparently obtains and
// refreshes access tokens for every delivery.
func NewWebhookShipper(cfg *config.WebhookShipperConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if cfg.OAuth2 != nil {
		cc := clientcredentials.Config{
			TokenURL:     cfg.OAuth2.TokenURL,
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			Scopes:       cfg.OAuth2.Scopes,
		}
		client = cc.Client(context.Background())
		client.Timeout = timeout
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  client,
		batchCh: make(chan *Envelope, 1000),
		batch:   make([]*Envelope, 0),
		closeCh: make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	}

	return ws, nil
}

// processBatches handles batched sending
func (ws *WebhookShipper) processBatches() {
	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, env)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			// Flush remaining
			ws.batchMu.Lock()
			if len(ws.batch) > 0 {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Caller holds batchMu.
func (ws *WebhookShipper) flushBatch() {
	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal webhook batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	timeout := ws.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Error("failed to send webhook batch", "size", len(ws.batch), "error", err)
	}

	ws.batch = ws.batch[:0]
}

// Ship queues the envelope for batched delivery, or sends it directly when
// batching is disabled (or the queue is full).
func (ws *WebhookShipper) Ship(ctx context.Context, env *Envelope) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- env:
			return nil
		default:
			// Queue full, deliver inline rather than drop.
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return ws.sendRequest(ctx, data)
}

// sendRequest sends the HTTP request
func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	if ws.cfg.SigningKey != "" {
		signature, err := signPayload(data, ws.cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("failed to sign payload: %w", err)
		}
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// signPayload produces a short-lived HS256 JWT binding the body digest.
func signPayload(data []byte, key string) (string, error) {
	digest := sha256.Sum256(data)
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    "fieldtrace",
		"iat":    now.Unix(),
		"exp":    now.Add(5 * time.Minute).Unix(),
		"sha256": hex.EncodeToString(digest[:]),
	})
	return token.SignedString([]byte(key))
}

// Close stops the batch processor, flushing anything still queued.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	return nil
}
