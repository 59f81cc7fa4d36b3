package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridSender struct {
	client *sendgrid.Client
	from   string
}

func NewSendGridSender(apiKey, from string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: from}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) Result {
	if msg.From == "" {
		msg.From = s.from
	}
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}

	m := mail.NewSingleEmailPlainText(
		mail.NewEmail("", msg.From),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Body,
	)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("sendgrid send failed: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return Result{Success: false, Error: fmt.Errorf("sendgrid rejected message: status %d", resp.StatusCode)}
	}

	msgID := resp.Headers["X-Message-Id"]
	id := ""
	if len(msgID) > 0 {
		id = msgID[0]
	}
	return Result{Success: true, MessageID: id}
}
