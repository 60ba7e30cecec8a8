// Package webhook posts a signed summary of each sync cycle to an optional
// back-office endpoint, so a store dashboard can watch terminal health
// without polling every till.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Payload is the webhook POST body: one sync cycle's outcome.
type Payload struct {
	TerminalID string `json:"terminal_id"`
	Timestamp  string `json:"timestamp"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`

	Pulled     int `json:"pulled"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Dispatched int `json:"dispatched"`
	Completed  int `json:"completed"`
	Requeued   int `json:"requeued"`
	Failed     int `json:"failed"`

	PendingCount int64 `json:"pending_count"`
	FailedCount  int64 `json:"failed_count"`
}

// Sign computes the signature for a body at a given unix timestamp:
// hex(HMAC-SHA256(secret, ts + "." + body)).
func Sign(secret, unixTS string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unixTS))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status). Callers fire this from a goroutine;
// a webhook failure never blocks or fails a sync cycle.
func Dispatch(url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "till-webhook/1")

	unixTS := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Till-Timestamp", unixTS)

	if secret != "" {
		req.Header.Set("X-Till-Signature", "sha256="+Sign(secret, unixTS, body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}
