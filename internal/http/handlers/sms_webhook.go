package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/store"
)

// smsWebhookRequest is the normalized inbound SMS delivery.
type smsWebhookRequest struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Body              string `json:"body"`
	ProviderMessageID string `json:"provider_message_id"`
}

// SMSWebhook ingests one inbound SMS, runs the turn, and returns the reply.
// Provider retries are absorbed by the dedup check; concurrent deliveries
// for the same customer serialize on a per-customer lock.
func (h *Handlers) SMSWebhook(w http.ResponseWriter, r *http.Request) {
	req := smsWebhookRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "from and body are required")
		return
	}

	ctx := r.Context()
	if !h.deps.Dedup.FirstDelivery(ctx, store.ChannelSMS, req.ProviderMessageID) {
		h.logger.Info("duplicate sms delivery ignored", "provider_message_id", req.ProviderMessageID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	phone := messaging.NormalizePhone(req.From)
	if phone == "" {
		writeError(w, http.StatusBadRequest, "from is not a valid phone number")
		return
	}

	unlock := h.deps.Locks.Lock("sms:" + phone)
	defer unlock()

	customer, err := h.resolveCustomer(ctx, phone, "", "", false)
	if err != nil {
		h.logger.Error("customer resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve customer")
		return
	}
	conv, err := h.resolveConversation(ctx, customer, store.ChannelSMS, "")
	if err != nil {
		h.logger.Error("conversation resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve conversation")
		return
	}

	inbound := &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Content:        req.Body,
		SentAt:         h.deps.Zone.Now(),
	}
	if err := h.deps.Store.AppendMessage(ctx, inbound); err != nil {
		h.logger.Error("inbound persist failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not persist message")
		return
	}
	if err := h.deps.Store.CreateSMSDetails(ctx, &store.SMSDetails{
		MessageID:         inbound.ID,
		FromNumber:        phone,
		ToNumber:          req.To,
		ProviderMessageID: req.ProviderMessageID,
	}); err != nil {
		h.logger.Warn("sms details persist failed", "message_id", inbound.ID, "error", err)
	}

	reply, err := h.deps.Turn.Run(ctx, conv, inbound)
	if err != nil {
		h.logger.Error("turn failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not process message")
		return
	}

	if h.deps.SMSReplyViaProvider && h.deps.SMS != nil {
		out := messaging.OutboundSMS{To: phone, From: h.deps.SMSFromNumber, Body: reply}
		if err := h.deps.SMS.SendSMS(ctx, out); err != nil {
			h.logger.Error("provider send failed", "conversation_id", conv.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"reply":           reply,
	})
}
