package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lumenspa/receptionist/pkg/logging"
)

var telnyxTracer = otel.Tracer("receptionist.internal.messaging.telnyx")

const telnyxMessagesURL = "https://api.telnyx.com/v2/messages"

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	baseURL            string
	httpClient         *http.Client
	logger             *logging.Logger
}

// TelnyxOption customizes a TelnyxSender.
type TelnyxOption func(*TelnyxSender)

// WithTelnyxBaseURL points the sender at a different endpoint; used by tests.
func WithTelnyxBaseURL(url string) TelnyxOption {
	return func(s *TelnyxSender) { s.baseURL = url }
}

// WithTelnyxHTTPClient swaps the HTTP client.
func WithTelnyxHTTPClient(c *http.Client) TelnyxOption {
	return func(s *TelnyxSender) { s.httpClient = c }
}

// NewTelnyxSender builds a sender for the Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID string, logger *logging.Logger, opts ...TelnyxOption) *TelnyxSender {
	s := &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		baseURL:            telnyxMessagesURL,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		logger:             logger.Component("telnyx"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ SMSSender = (*TelnyxSender)(nil)

// SendSMS dispatches a single SMS, retrying transient failures up to three
// attempts with short jittered pauses.
func (s *TelnyxSender) SendSMS(ctx context.Context, msg OutboundSMS) error {
	if s.apiKey == "" {
		return errors.New("messaging: telnyx api key missing")
	}
	if msg.To == "" {
		return errors.New("messaging: to required")
	}
	if msg.From == "" {
		return errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := telnyxTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("sms.to", msg.To),
		attribute.String("sms.from", msg.From),
	)

	payload := map[string]any{
		"from": msg.From,
		"to":   msg.To,
		"text": msg.Body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: marshal telnyx payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.recordProviderResult(msg.Metadata, body)
				s.logger.Info("sms sent", "to", msg.To, "from", msg.From)
				return nil
			}
			var errorBody map[string]any
			if len(body) > 0 && json.Unmarshal(body, &errorBody) == nil {
				lastErr = fmt.Errorf("telnyx send failed: status %d, body: %v", resp.StatusCode, errorBody)
			} else {
				lastErr = fmt.Errorf("telnyx send failed: status %d", resp.StatusCode)
			}
		}

		if attempt < 3 {
			time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		s.logger.Error("failed to send sms", "error", lastErr, "to", msg.To)
	}
	return lastErr
}

func (s *TelnyxSender) recordProviderResult(metadata map[string]any, body []byte) {
	if metadata == nil || len(body) == 0 {
		return
	}
	var parsed struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if parsed.Data.ID != "" {
		metadata["provider_message_id"] = parsed.Data.ID
	}
	if parsed.Data.Status != "" {
		metadata["provider_status"] = parsed.Data.Status
	}
}
