package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hemobank/pkg/email"
	pstrings "hemobank/pkg/platform/strings"
)

// Mail is a rendered alert ready for the relay.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Outbox hands rendered mail to whatever relays it. The core never speaks
// SMTP itself.
type Outbox interface {
	Deliver(ctx context.Context, mail Mail) error
}

// LogOutbox writes rendered mail to the log. It is the default when no
// relay is configured, so alert content is still observable.
type LogOutbox struct {
	logger *slog.Logger
}

func NewLogOutbox(logger *slog.Logger) *LogOutbox {
	return &LogOutbox{logger: logger}
}

func (o *LogOutbox) Deliver(ctx context.Context, mail Mail) error {
	o.logger.InfoContext(ctx, "alert mail",
		"to", mail.To,
		"subject", mail.Subject,
		"body", mail.Body,
	)
	return nil
}

// MemoryOutbox records delivered mail for tests.
type MemoryOutbox struct {
	mu   sync.Mutex
	mail []Mail
}

func NewMemoryOutbox() *MemoryOutbox { return &MemoryOutbox{} }

func (o *MemoryOutbox) Deliver(_ context.Context, mail Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mail = append(o.mail, mail)
	return nil
}

func (o *MemoryOutbox) Mail() []Mail {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Mail{}, o.mail...)
}

// EmailAlertSink mails low-stock events to the operator distribution list
// and ignores everything else. Recipients are deduplicated
// case-insensitively at construction.
type EmailAlertSink struct {
	recipients []string
	outbox     Outbox
}

func NewEmailAlertSink(recipients []string, outbox Outbox) *EmailAlertSink {
	return &EmailAlertSink{
		recipients: pstrings.DedupeAndTrimLower(recipients),
		outbox:     outbox,
	}
}

func (s *EmailAlertSink) Publish(ctx context.Context, event Event) error {
	if event.Kind != KindLowStock {
		return nil
	}
	for _, to := range s.recipients {
		if err := s.outbox.Deliver(ctx, renderLowStockMail(to, event)); err != nil {
			return fmt.Errorf("deliver low stock alert to %s: %w", to, err)
		}
	}
	return nil
}

func renderLowStockMail(to string, event Event) Mail {
	first, _ := email.DeriveNameFromEmail(to)
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("Low stock: %s at %d ml", event.BloodType, event.AvailableML),
		Body: fmt.Sprintf(
			"Hi %s,\n\nAvailable stock for blood type %s has dropped to %d ml. Please review pending requests and schedule a donation drive.\n",
			first, event.BloodType, event.AvailableML,
		),
	}
}
