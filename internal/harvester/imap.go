// ABOUTME: IMAP Mailbox implementation using go-imap
// ABOUTME: Connects over TLS, selects one mailbox and peeks unread messages

package harvester

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const defaultDialTimeout = 30 * time.Second

// IMAPConfig names the server and mailbox to poll.
type IMAPConfig struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
}

// IMAPMailbox is a logged-in IMAP session with one mailbox selected.
type IMAPMailbox struct {
	c      *client.Client
	stop   func() bool
	logger *slog.Logger
}

// DialIMAP connects, logs in and selects cfg.Mailbox. The connection is
// torn down if ctx ends before Close.
func DialIMAP(ctx context.Context, cfg IMAPConfig, logger *slog.Logger) (*IMAPMailbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: timeout}, cfg.Addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Addr, err)
	}
	c.Timeout = timeout
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		stop()
		_ = c.Logout()
		return nil, fmt.Errorf("logging in as %s: %w", cfg.Username, err)
	}
	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		stop()
		_ = c.Logout()
		return nil, fmt.Errorf("selecting %s: %w", cfg.Mailbox, err)
	}
	return &IMAPMailbox{c: c, stop: stop, logger: logger}, nil
}

// Unseen returns unread messages, fetched with BODY.PEEK so they stay unread.
func (m *IMAPMailbox) Unseen(ctx context.Context) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	fetched := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, fetched)
	}()

	var out []Message
	for raw := range fetched {
		body := raw.GetBody(section)
		if body == nil {
			continue
		}
		msg, err := ParseMessage(body)
		if err != nil {
			m.logger.Warn("skipping unparseable message", "uid", raw.Uid, "error", err)
			continue
		}
		msg.UID = raw.Uid
		out = append(out, msg)
	}
	if err := <-done; err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// MarkSeen adds the \Seen flag to uids.
func (m *IMAPMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("flagging seen: %w", err)
	}
	return nil
}

// Close logs out.
func (m *IMAPMailbox) Close() error {
	m.stop()
	return m.c.Logout()
}
