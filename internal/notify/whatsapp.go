package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppTransport posts messages to a self-hosted WhatsApp HTTP gateway.
// The gateway queues delivery, so a 2xx response means "queued" rather
// than delivered.
type WhatsAppTransport struct {
	baseURL string
	http    *http.Client
}

func NewWhatsAppTransport(gatewayURL string) *WhatsAppTransport {
	return &WhatsAppTransport{
		baseURL: strings.TrimRight(gatewayURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WhatsAppTransport) Name() string { return "whatsapp" }

func (t *WhatsAppTransport) Deliver(ctx context.Context, recipient, message string) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"phone":   recipient,
		"message": message,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/send/message", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("gateway HTTP %d", resp.StatusCode)
	}
	return "queued", nil
}
