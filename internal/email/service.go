package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
)

type Service interface {
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

// NewService returns an SMTP sender, or a sender that only logs when email
// is disabled.
func NewService(cfg config.EmailConfig) Service {
	if !cfg.Enabled {
		return noopService{}
	}
	return &smtpService{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func newMessage(from, to, subject, content string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)
	return m
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(newMessage(s.from, to, subject, content)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type noopService struct{}

func (noopService) SendCustom(ctx context.Context, to string, subject string, _ string) error {
	zerolog.Ctx(ctx).Debug().Str("to", to).Str("subject", subject).Msg("email disabled, message dropped")
	return nil
}

// AppointmentMessage renders the patient notification for an appointment
// event. ok is false when the event has no patient email or needs no mail.
func AppointmentMessage(eventType string, evt *model.AppointmentEvent) (subject, body string, ok bool) {
	if evt.PatientEmail == "" {
		return "", "", false
	}

	name := evt.PatientName
	if name == "" {
		name = "there"
	}
	when := fmt.Sprintf("%s to %s (UTC)",
		evt.StartAt.UTC().Format("Mon 02 Jan 2006 15:04"),
		evt.EndAt.UTC().Format("15:04"))

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)

	switch eventType {
	case model.EventAppointmentBooked:
		subject = "We received your appointment request"
		fmt.Fprintf(&b, "Your appointment request for %s has been received", when)
		if evt.Service != "" {
			fmt.Fprintf(&b, " for %s", evt.Service)
		}
		b.WriteString(". We will confirm it shortly.\n")
	case model.EventAppointmentStatusChanged:
		switch evt.Status {
		case model.AppointmentStatusConfirmed:
			subject = "Your appointment is confirmed"
			fmt.Fprintf(&b, "Your appointment on %s is confirmed.\n", when)
		case model.AppointmentStatusCancelled:
			subject = "Your appointment was cancelled"
			fmt.Fprintf(&b, "Your appointment on %s has been cancelled.\n", when)
		default:
			return "", "", false
		}
	default:
		return "", "", false
	}

	fmt.Fprintf(&b, "\nReference: %s\n", evt.AppointmentID)
	return subject, b.String(), true
}
