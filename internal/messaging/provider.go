package messaging

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/lumenspa/receptionist/internal/config"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// BuildEmailSender selects the email provider from configuration.
// "sendgrid" and "ses" force a provider; "auto" prefers SendGrid when an
// API key is present, then SES, then a logging stub.
func BuildEmailSender(ctx context.Context, cfg *config.Config, logger *logging.Logger) EmailSender {
	sendgridSender := NewSendGridSender(SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	sesSender := buildSESSender(ctx, cfg, logger)

	switch cfg.EmailProvider {
	case "sendgrid":
		if sendgridSender != nil {
			return sendgridSender
		}
	case "ses":
		if sesSender != nil {
			return sesSender
		}
	default:
		if sendgridSender != nil {
			return sendgridSender
		}
		if sesSender != nil {
			return sesSender
		}
	}
	logger.Warn("no email provider configured, using stub sender", "provider", cfg.EmailProvider)
	return NewStubEmailSender(logger)
}

func buildSESSender(ctx context.Context, cfg *config.Config, logger *logging.Logger) *SESSender {
	if cfg.SESFromEmail == "" {
		return nil
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger.Error("failed to load AWS config for SES", "error", err)
		return nil
	}
	return NewSESSender(sesv2.NewFromConfig(awsCfg), SESConfig{
		FromEmail: cfg.SESFromEmail,
		FromName:  cfg.SESFromName,
	}, logger)
}

// BuildSMSSender returns the configured SMS provider, or a logging stub
// when Telnyx credentials are absent.
func BuildSMSSender(cfg *config.Config, logger *logging.Logger) SMSSender {
	if cfg.TelnyxAPIKey != "" {
		return NewTelnyxSender(cfg.TelnyxAPIKey, cfg.TelnyxMessagingProfileID, logger)
	}
	logger.Warn("no SMS provider configured, using stub sender")
	return NewStubSMSSender(logger)
}

// StubEmailSender logs instead of sending; used when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates the stub.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	return &StubEmailSender{logger: logger.Component("email_stub")}
}

// SendEmail logs the email but does not deliver it.
func (s *StubEmailSender) SendEmail(_ context.Context, msg OutboundEmail) error {
	s.logger.Info("stub email sender: would send", "to", msg.To, "subject", msg.Subject)
	return nil
}

// StubSMSSender logs instead of sending; used when SMS delivery is disabled.
type StubSMSSender struct {
	logger *logging.Logger
}

// NewStubSMSSender creates the stub.
func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	return &StubSMSSender{logger: logger.Component("sms_stub")}
}

// SendSMS logs the message but does not deliver it.
func (s *StubSMSSender) SendSMS(_ context.Context, msg OutboundSMS) error {
	s.logger.Info("stub sms sender: would send", "to", msg.To)
	return nil
}
