package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSender posts event payloads to integrator endpoints. Each request is
// signed with HMAC-SHA256 over the raw body so receivers can authenticate
// the origin.
type HTTPSender struct {
	signingSecret []byte
	client        *http.Client
}

func NewHTTPSender(signingSecret string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		signingSecret: []byte(signingSecret),
		client:        &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, endpoint, eventID, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Billing-Event-Id", eventID)
	req.Header.Set("X-Billing-Event-Type", eventType)
	if len(s.signingSecret) > 0 {
		req.Header.Set("X-Billing-Signature", s.sign(payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSender) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.signingSecret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
