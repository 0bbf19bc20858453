package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridSink emails notifications through the SendGrid v3 API.
type SendGridSink struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	send       func(request rest.Request) (*rest.Response, error)
}

// NewSendGridSink constructs a SendGridSink.
func NewSendGridSink(apiKey, fromEmail, fromName string) *SendGridSink {
	return &SendGridSink{
		key:        apiKey,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + fromName + "] ",
		send:       sendgrid.API,
	}
}

// Name identifies the sink in metrics.
func (s *SendGridSink) Name() string { return "sendgrid" }

// Send emails the message to the learner's address.
func (s *SendGridSink) Send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return fmt.Errorf("notification %s has no recipient email", msg.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := s.send(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (s *SendGridSink) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	subject := msg.Subject
	if subject == "" {
		subject = msg.Type
	}
	p.Subject = s.subjPrefix + subject
	p.AddTos(sgmail.NewEmail(msg.Name, msg.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return m
}
