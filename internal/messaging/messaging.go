// Package messaging covers outbound SMS and email delivery behind small
// sender interfaces, plus phone number normalization.
package messaging

import "context"

// OutboundSMS is one text message to deliver. Metadata, when non-nil,
// receives provider ids and statuses after a successful send.
type OutboundSMS struct {
	To       string
	From     string
	Body     string
	Metadata map[string]any
}

// OutboundEmail is one email to deliver.
type OutboundEmail struct {
	To       string
	ToName   string
	Subject  string
	BodyText string
	BodyHTML string
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, msg OutboundSMS) error
}

// EmailSender delivers emails.
type EmailSender interface {
	SendEmail(ctx context.Context, msg OutboundEmail) error
}
