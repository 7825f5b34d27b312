// Package notify is the outbound messaging gateway (WhatsApp/SMS-equivalent).
// Delivery is fire-and-forget: failures are logged and never surfaced to the
// caller, because a missed text must not block dispatch or settlement.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type Messenger struct {
	Endpoint string
	Token    string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewMessenger(endpoint, token string, logger *slog.Logger) *Messenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Messenger{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

// Send posts one message to the gateway for targetID.
func (m *Messenger) Send(ctx context.Context, targetID, message string) {
	if m.Endpoint == "" {
		return
	}
	body, _ := json.Marshal(map[string]string{"to": targetID, "message": message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		m.Logger.Warn("messenger request build failed", "target", targetID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.Token)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		m.Logger.Warn("messenger send failed", "target", targetID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		m.Logger.Warn("messenger gateway rejected message", "target", targetID, "status", resp.StatusCode)
	}
}
