package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/wolfman30/dental-receptionist/internal/clinic"
	"github.com/wolfman30/dental-receptionist/internal/dateparse"
	"github.com/wolfman30/dental-receptionist/pkg/logging"
)

// ErrNoRecipient is returned when a confirmation has no destination address.
var ErrNoRecipient = errors.New("notify: recipient email is required")

const confirmationSubject = "Appointment Confirmation - %s"

const confirmationHTML = `<html>
  <body style="font-family: Arial, sans-serif; padding: 20px; background-color: #f5f5f5;">
    <div style="max-width: 600px; margin: 0 auto; background-color: white; padding: 30px; border-radius: 10px;">
      <h2 style="color: #667eea; margin-top: 0;">&#10003; Appointment Confirmed!</h2>
      <p>Dear <strong>{{.Name}}</strong>,</p>
      <p>Your appointment at <strong>{{.Clinic}}</strong> has been successfully confirmed.</p>
      <div style="background-color: #f8f9fa; padding: 20px; border-left: 4px solid #667eea; margin: 20px 0;">
        <h3 style="margin-top: 0; color: #333;">Appointment Details:</h3>
        <table style="width: 100%; border-collapse: collapse;">
          <tr><td style="padding: 8px 0;"><strong>Service:</strong></td><td style="padding: 8px 0;">{{.Service}}</td></tr>
          <tr><td style="padding: 8px 0;"><strong>When:</strong></td><td style="padding: 8px 0;">{{.When}}</td></tr>
          <tr><td style="padding: 8px 0;"><strong>Dentist:</strong></td><td style="padding: 8px 0;">{{.Dentist}}</td></tr>
        </table>
      </div>
      <div style="background-color: #e8f5e9; padding: 15px; border-radius: 5px; margin: 20px 0;">
        <p style="margin: 0;"><strong>Location:</strong> {{.Address}}</p>
        <p style="margin: 5px 0 0 0;"><strong>Phone:</strong> {{.Phone}}</p>
      </div>
      <p style="color: #666; font-size: 14px;">Please arrive 10 minutes early. If you need to reschedule or cancel, please contact us at least 24 hours in advance.</p>
      <p style="margin-top: 30px;">Best regards,<br><strong>{{.Clinic}} Team</strong></p>
    </div>
  </body>
</html>
`

const confirmationText = `Appointment Confirmed!

Dear {{.Name}},

Your appointment at {{.Clinic}} has been successfully confirmed.

Service: {{.Service}}
When:    {{.When}}
Dentist: {{.Dentist}}

Location: {{.Address}}
Phone:    {{.Phone}}

Please arrive 10 minutes early. If you need to reschedule or cancel, please contact us at least 24 hours in advance.

Best regards,
{{.Clinic}} Team
`

var (
	confirmationHTMLTmpl = htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(confirmationHTML))
	confirmationTextTmpl = texttemplate.Must(texttemplate.New("confirmation.txt").Parse(confirmationText))
)

type confirmationView struct {
	Name    string
	Clinic  string
	Service string
	When    string
	Dentist string
	Address string
	Phone   string
}

// AppointmentNotifier renders and sends booking confirmations.
type AppointmentNotifier struct {
	sender  EmailSender
	profile *clinic.Profile
	logger  *logging.Logger
	timeout time.Duration
}

// NewAppointmentNotifier creates a notifier. A nil sender falls back to the stub.
func NewAppointmentNotifier(sender EmailSender, profile *clinic.Profile, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if sender == nil {
		sender = NewStubEmailSender(logger)
	}
	if profile == nil {
		profile = clinic.DefaultProfile()
	}
	return &AppointmentNotifier{sender: sender, profile: profile, logger: logger, timeout: 15 * time.Second}
}

// SendAppointmentConfirmation emails the patient a summary of their booking.
func (n *AppointmentNotifier) SendAppointmentConfirmation(ctx context.Context, to string, slots map[string]string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrNoRecipient
	}
	msg, err := n.render(to, slots)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send confirmation: %w", err)
	}
	return nil
}

func (n *AppointmentNotifier) render(to string, slots map[string]string) (EmailMessage, error) {
	view := confirmationView{
		Name:    valueOr(slots["name"], "Patient"),
		Clinic:  n.profile.Name,
		Service: valueOr(slots["service"], "N/A"),
		When:    dateparse.FormatDateTime(slots["date"], slots["time"]),
		Dentist: valueOr(slots["dentist"], "To be assigned"),
		Address: n.profile.Address,
		Phone:   n.profile.Phone,
	}

	var html, text bytes.Buffer
	if err := confirmationHTMLTmpl.Execute(&html, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render html: %w", err)
	}
	if err := confirmationTextTmpl.Execute(&text, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render text: %w", err)
	}
	return EmailMessage{
		To:      to,
		ToName:  slots["name"],
		Subject: fmt.Sprintf(confirmationSubject, n.profile.Name),
		Body:    text.String(),
		HTML:    html.String(),
	}, nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
