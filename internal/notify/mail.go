package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"outpass/internal/leave"
)

// Email is a rendered message ready for delivery.
type Email struct {
	To      []mail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers rendered emails.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	Log leave.Logger
}

// Send logs the envelope and text body.
func (m LogMailer) Send(_ context.Context, e Email) error {
	to := make([]string, len(e.To))
	for i, a := range e.To {
		to[i] = a.String()
	}
	m.Log.Printf("[mail] to=%s subject=%q\n%s", strings.Join(to, ", "), e.Subject, e.Text)
	return nil
}

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridMailer delivers through the SendGrid v3 API.
type SendGridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
}

// NewSendGridMailer creates a mailer sending as appName <fromEmail>.
func NewSendGridMailer(key, appName, fromEmail string) *SendGridMailer {
	return &SendGridMailer{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
		host:       sendGridHost,
	}
}

// Send posts one message with a single personalization for all recipients.
func (m *SendGridMailer) Send(ctx context.Context, e Email) error {
	if len(e.To) == 0 {
		return nil
	}
	req := sendgrid.GetRequest(m.key, sendGridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(e))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (m *SendGridMailer) prepare(e Email) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + e.Subject
	for _, to := range e.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Address))
	}

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(
		sgmail.NewContent("text/plain", e.Text),
		sgmail.NewContent("text/html", e.HTML),
	)
	return msg
}
