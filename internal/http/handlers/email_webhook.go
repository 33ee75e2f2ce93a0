package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/store"
)

// emailWebhookRequest is the normalized inbound email delivery.
type emailWebhookRequest struct {
	From              string `json:"from"`
	FromName          string `json:"from_name"`
	To                string `json:"to"`
	Subject           string `json:"subject"`
	BodyText          string `json:"body_text"`
	BodyHTML          string `json:"body_html"`
	ProviderMessageID string `json:"provider_message_id"`
}

// EmailWebhook ingests one inbound email. Email-only customers get a
// synthesized phone placeholder so the phone-keyed customer model holds.
func (h *Handlers) EmailWebhook(w http.ResponseWriter, r *http.Request) {
	req := emailWebhookRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	from := strings.ToLower(strings.TrimSpace(req.From))
	content := strings.TrimSpace(req.BodyText)
	if content == "" {
		content = strings.TrimSpace(req.BodyHTML)
	}
	if from == "" || content == "" {
		writeError(w, http.StatusBadRequest, "from and a body are required")
		return
	}

	ctx := r.Context()
	if !h.deps.Dedup.FirstDelivery(ctx, store.ChannelEmail, req.ProviderMessageID) {
		h.logger.Info("duplicate email delivery ignored", "provider_message_id", req.ProviderMessageID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	phone := messaging.SynthesizePhoneFromEmail(from)
	unlock := h.deps.Locks.Lock("email:" + phone)
	defer unlock()

	customer, err := h.resolveCustomer(ctx, phone, req.FromName, from, true)
	if err != nil {
		h.logger.Error("customer resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve customer")
		return
	}
	conv, err := h.resolveConversation(ctx, customer, store.ChannelEmail, req.Subject)
	if err != nil {
		h.logger.Error("conversation resolution failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve conversation")
		return
	}

	inbound := &store.Message{
		ConversationID: conv.ID,
		Direction:      store.DirectionInbound,
		Content:        content,
		SentAt:         h.deps.Zone.Now(),
	}
	if err := h.deps.Store.AppendMessage(ctx, inbound); err != nil {
		h.logger.Error("inbound persist failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not persist message")
		return
	}
	if err := h.deps.Store.CreateEmailDetails(ctx, &store.EmailDetails{
		MessageID:   inbound.ID,
		FromAddress: from,
		ToAddress:   req.To,
		Subject:     req.Subject,
	}); err != nil {
		h.logger.Warn("email details persist failed", "message_id", inbound.ID, "error", err)
	}

	reply, err := h.deps.Turn.Run(ctx, conv, inbound)
	if err != nil {
		h.logger.Error("turn failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not process message")
		return
	}

	if h.deps.Email != nil {
		subject := req.Subject
		if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
		if subject == "" {
			subject = "Your message to " + h.deps.SpaName
		}
		out := messaging.OutboundEmail{
			To:       from,
			ToName:   req.FromName,
			Subject:  subject,
			BodyText: reply,
		}
		if err := h.deps.Email.SendEmail(ctx, out); err != nil {
			h.logger.Error("provider send failed", "conversation_id", conv.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"reply":           reply,
	})
}
