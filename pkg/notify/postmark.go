package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// Config holds outbound email configuration.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"NOTIFY_SENDER_EMAIL"`
	SupportEmail         string `env:"NOTIFY_SUPPORT_EMAIL"`
}

// Configured reports whether Postmark delivery can be enabled.
func (c Config) Configured() bool {
	return c.PostmarkServerToken != "" && c.SenderEmail != ""
}

type postmarkNotifier struct {
	client    *postmark.Client
	directory Directory
	cfg       Config
}

// NewPostmarkNotifier creates a Postmark-backed notifier. All configuration
// is validated here so downstream components can assume delivery works.
func NewPostmarkNotifier(cfg Config, directory Directory) (Notifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: SenderEmail is required", ErrInvalidConfig)
	}
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = cfg.SenderEmail
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: account directory is required", ErrInvalidConfig)
	}

	return &postmarkNotifier{
		client:    postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		directory: directory,
		cfg:       cfg,
	}, nil
}

func (p *postmarkNotifier) Send(ctx context.Context, n Notification) error {
	subject, body, err := render(n)
	if err != nil {
		return err
	}

	to, err := p.directory.EmailFor(ctx, n.AccountID)
	if err != nil {
		return errors.Join(ErrNoRecipient, err)
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.cfg.SenderEmail,
		ReplyTo:    p.cfg.SupportEmail,
		To:         to,
		Subject:    subject,
		HTMLBody:   body,
		Tag:        string(n.Type),
		TrackOpens: true,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// render maps a notification to its subject and HTML body. Templates stay in
// code: there are three of them and the copy rarely changes.
func render(n Notification) (subject, body string, err error) {
	switch n.Type {
	case TypeRenewalReminder:
		subject = "Your plan renews soon"
		body = fmt.Sprintf(
			"<p>Your %v plan is due for renewal on %v. No action is needed if your payment method is up to date.</p>",
			n.Data["plan"], n.Data["valid_until"])
	case TypeTrialEnded:
		subject = "Your free trial has ended"
		body = fmt.Sprintf(
			"<p>Your trial ended on %v. Upgrade to keep your listings visible.</p>",
			n.Data["valid_until"])
	case TypeRefreshNeeded:
		subject = "Some of your listings need a refresh"
		body = fmt.Sprintf(
			"<p>%v of your listings have not been refreshed in the last %v days.</p>",
			n.Data["count"], n.Data["window_days"])
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownType, n.Type)
	}
	return subject, body, nil
}
