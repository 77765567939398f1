package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChannelSender invokes an external channel collaborator: the outreach
// drafter, the prep generator, the negotiation notifier. The engine never
// knows how an email is sent; collaborators receive a signed notification
// and own the transport.
type ChannelSender interface {
	Send(ctx context.Context, req ChannelRequest) ChannelResult
}

type ChannelRequest struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Payload ChannelPayload
}

type ChannelPayload struct {
	ApplicationID string `json:"application_id"`
	Kind          string `json:"kind"`
	Epoch         string `json:"epoch"`
	DueAt         string `json:"due_at"`
}

type ChannelResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r ChannelResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type HTTPChannelSender struct {
	client *http.Client
}

func NewHTTPChannelSender() *HTTPChannelSender {
	return &HTTPChannelSender{
		client: &http.Client{},
	}
}

// Send posts the action payload with HMAC signature.
// Headers: X-Emplaiyed-Action, X-Emplaiyed-Signature
func (s *HTTPChannelSender) Send(ctx context.Context, req ChannelRequest) ChannelResult {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return ChannelResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(req.Secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return ChannelResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Emplaiyed-Action", req.Payload.Kind)
	httpReq.Header.Set("X-Emplaiyed-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return ChannelResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return ChannelResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for collaborators to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
