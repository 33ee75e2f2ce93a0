// Package handlers exposes the provider-facing HTTP surface: SMS and email
// webhooks plus the voice websocket endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lumenspa/receptionist/internal/locks"
	"github.com/lumenspa/receptionist/internal/messaging"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/internal/turn"
	"github.com/lumenspa/receptionist/internal/voice"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// Deps carries everything the handlers need. Nil senders disable provider
// delivery; the reply still comes back in the webhook response.
type Deps struct {
	Store  store.Store
	Turn   *turn.Orchestrator
	Bridge *voice.Bridge
	SMS    messaging.SMSSender
	Email  messaging.EmailSender
	Locks  *locks.Keyed
	Dedup  *locks.Deduper
	Zone   *timeutil.Zone
	Logger *logging.Logger

	SMSFromNumber       string
	SMSReplyViaProvider bool
	SpaName             string
}

// Handlers binds the dependency set.
type Handlers struct {
	deps   Deps
	logger *logging.Logger
}

// New wires the handler set.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps, logger: deps.Logger.Component("http")}
}

// resolveCustomer finds or creates the customer keyed by phone, updating
// name and email when the inbound carries fresher contact info.
func (h *Handlers) resolveCustomer(ctx context.Context, phone, name, email string, synthesized bool) (*store.Customer, error) {
	customer, err := h.deps.Store.GetCustomerByPhone(ctx, phone)
	if err == nil {
		if (name != "" && customer.Name == "") || (email != "" && customer.Email == "") {
			if customer.Name == "" {
				customer.Name = name
			}
			if customer.Email == "" {
				customer.Email = email
			}
			if err := h.deps.Store.UpdateCustomerContact(ctx, customer.ID, customer.Name, customer.Email); err != nil {
				h.logger.Warn("customer contact update failed", "customer_id", customer.ID, "error", err)
			}
		}
		return customer, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	customer = &store.Customer{
		Name:             name,
		Phone:            phone,
		SynthesizedPhone: synthesized,
		Email:            email,
	}
	if err := h.deps.Store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// resolveConversation reuses the customer's active conversation on the
// channel or opens a new one.
func (h *Handlers) resolveConversation(ctx context.Context, customer *store.Customer, channel, subject string) (*store.Conversation, error) {
	conv, err := h.deps.Store.FindActiveConversation(ctx, customer.ID, channel)
	if err == nil {
		return conv, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	conv = &store.Conversation{
		CustomerID: &customer.ID,
		Channel:    channel,
		Metadata:   map[string]any{},
	}
	if subject != "" {
		conv.Subject = &subject
	}
	if customer.Name != "" {
		conv.Metadata[turn.MetaCustomerName] = customer.Name
	}
	if !customer.SynthesizedPhone {
		conv.Metadata[turn.MetaCustomerPhone] = customer.Phone
	}
	if customer.Email != "" {
		conv.Metadata[turn.MetaCustomerEmail] = customer.Email
	}
	if err := h.deps.Store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
