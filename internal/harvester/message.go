// ABOUTME: Mailbox abstraction and MIME parsing of fetched messages
// ABOUTME: Uses go-message to walk parts and collect attachments

package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// maxBodyBytes caps how much of a text part is kept for classification.
const maxBodyBytes = 256 << 10

// Attachment is one file attached to a message.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

// IsPDF reports whether the attachment looks like a PDF by type or name.
func (a Attachment) IsPDF() bool {
	if strings.EqualFold(a.ContentType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(a.FileName), ".pdf")
}

// Message is a fetched mailbox message.
type Message struct {
	UID         uint32
	Subject     string
	FromName    string
	FromAddress string
	Date        time.Time
	Body        string
	Attachments []Attachment
}

// Mailbox is a connected, selected mailbox.
type Mailbox interface {
	// Unseen returns messages without the \Seen flag. Fetching does not
	// mark them seen.
	Unseen(ctx context.Context) ([]Message, error)
	// MarkSeen flags the given UIDs \Seen.
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

// DialFunc opens a Mailbox for one poll.
type DialFunc func(ctx context.Context) (Mailbox, error)

// ParseMessage reads an RFC 5322 message. Unknown charsets are tolerated.
func ParseMessage(r io.Reader) (Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	var m Message
	m.Subject, _ = mr.Header.Subject()
	m.Date, _ = mr.Header.Date()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		m.FromName = from[0].Name
		m.FromAddress = from[0].Address
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return m, fmt.Errorf("reading part: %w", err)
		}
		if p == nil {
			continue
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			text, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
			if err != nil {
				return m, fmt.Errorf("reading body: %w", err)
			}
			switch {
			case ct == "text/plain" && plain == "":
				plain = string(text)
			case ct == "text/html" && html == "":
				html = string(text)
			}
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return m, fmt.Errorf("reading attachment %q: %w", name, err)
			}
			m.Attachments = append(m.Attachments, Attachment{FileName: name, ContentType: ct, Data: data})
		}
	}

	m.Body = plain
	if m.Body == "" {
		m.Body = html
	}
	return m, nil
}
