// Package inbox ingests mail over IMAP and persists it with extracted
// unsubscribe targets.
package inbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/config"
)

// Monitor handles IMAP connection and mailbox fetching
type Monitor struct {
	config config.InboxConfig
	client *client.Client
	logger zerolog.Logger
}

// Message is one parsed inbox message
type Message struct {
	UID            uint32
	MessageID      string
	From           string
	FromName       string
	FromDomain     string
	Subject        string
	Body           string
	HTMLBody       string
	ReceivedAt     time.Time
	UnsubscribeURL string // extracted target, empty when none found
}

// NewMonitor creates a new inbox monitor
func NewMonitor(cfg config.InboxConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{config: cfg, logger: logger}
}

// Connect establishes the IMAP connection
func (m *Monitor) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)

	m.logger.Info().Str("server", addr).Msg("connecting to IMAP server")

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	m.client = c
	m.logger.Info().Str("account", m.config.Email).Msg("IMAP login successful")
	return nil
}

// Disconnect closes the IMAP connection
func (m *Monitor) Disconnect() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// FetchRecent fetches messages from the last N days and extracts each one's
// unsubscribe target.
func (m *Monitor) FetchRecent(ctx context.Context, days int) ([]Message, error) {
	if m.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := m.client.Select(m.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}

	m.logger.Debug().Str("folder", m.config.Folder).Uint32("messages", mbox.Messages).Msg("mailbox selected")

	if mbox.Messages == 0 {
		return nil, nil
	}

	since := time.Now().AddDate(0, 0, -days)
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := m.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}

	m.logger.Info().Int("count", len(uids)).Str("since", since.Format("2006-01-02")).Msg("messages found")

	if len(uids) == 0 {
		return nil, nil
	}

	// Fetch in batches so one huge mailbox does not hold a giant channel
	var all []Message
	const batchSize = 50
	for i := 0; i < len(uids); i += batchSize {
		end := i + batchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uids[i:end]...)

		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

		messages := make(chan *imap.Message, batchSize)
		done := make(chan error, 1)
		go func() {
			done <- m.client.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			parsed, err := m.parseMessage(msg, section)
			if err != nil {
				m.logger.Warn().Err(err).Msg("failed to parse message")
				continue
			}
			if parsed != nil {
				all = append(all, *parsed)
			}
		}

		if err := <-done; err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}
	}

	return all, nil
}

// parseMessage converts an IMAP message into a Message, reading the
// List-Unsubscribe header and both body variants.
func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	parsed := &Message{
		UID:        msg.Uid,
		MessageID:  msg.Envelope.MessageId,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		parsed.From = from.Address()
		parsed.FromName = from.PersonalName
		if from.HostName != "" {
			parsed.FromDomain = strings.ToLower(from.HostName)
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return parsed, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return parsed, nil // keep the envelope even when the body is unparseable
	}

	listUnsub := mr.Header.Get("List-Unsubscribe")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && parsed.Body == "" {
				parsed.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && parsed.HTMLBody == "" {
				parsed.HTMLBody = string(body)
			}
		}
	}

	parsed.UnsubscribeURL = ExtractUnsubscribeLink(listUnsub, parsed.HTMLBody, parsed.Body)
	return parsed, nil
}
