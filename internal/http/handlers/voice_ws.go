package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/turn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Telephony gateways connect server-to-server with no Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// VoiceSession upgrades the connection and bridges the call. Every call is
// its own conversation; voice never resumes an earlier one.
func (h *Handlers) VoiceSession(w http.ResponseWriter, r *http.Request) {
	conv := &store.Conversation{Channel: store.ChannelVoice, Metadata: map[string]any{}}

	if caller := messaging.NormalizePhone(r.URL.Query().Get("phone")); caller != "" {
		customer, err := h.resolveCustomer(r.Context(), caller, "", "", false)
		if err != nil {
			h.logger.Warn("caller resolution failed, continuing anonymous", "error", err)
		} else {
			conv.CustomerID = &customer.ID
			if customer.Name != "" {
				conv.Metadata[turn.MetaCustomerName] = customer.Name
			}
			conv.Metadata[turn.MetaCustomerPhone] = customer.Phone
		}
	}

	if err := h.deps.Store.CreateConversation(r.Context(), conv); err != nil {
		h.logger.Error("voice conversation create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start call")
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	if err := h.deps.Bridge.Serve(r.Context(), clientConn, conv); err != nil {
		h.logger.Error("voice bridge failed", "conversation_id", conv.ID, "error", err)
		_ = clientConn.Close()
	}
}
