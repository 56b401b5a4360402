// ABOUTME: Mailbox polling loop implementing the workflow Harvester interface
// ABOUTME: Each poll runs under a timeout and dedupes attachments by content digest

package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/stampdesk/internal/config"
	"github.com/2389/stampdesk/internal/dedupe"
	"github.com/2389/stampdesk/internal/workflow"
)

// ErrStopTimeout is returned when Stop gives up waiting for a poll to finish.
var ErrStopTimeout = errors.New("harvester did not stop in time")

// Harvester polls a mailbox on an interval.
type Harvester struct {
	cfg        config.HarvesterConfig
	dial       DialFunc
	intake     workflow.IntakeFunc
	classifier *Classifier
	seen       *dedupe.Cache
	now        func() time.Time
	logger     *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastPoll   *time.Time
	lastError  string
	discovered int
}

// Option configures a Harvester
type Option func(*Harvester)

// WithLogger sets the harvester logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harvester) { h.logger = logger }
}

// WithDialer replaces the IMAP dialer.
func WithDialer(dial DialFunc) Option {
	return func(h *Harvester) { h.dial = dial }
}

// WithClock overrides the time source for poll timestamps and dedupe.
func WithClock(now func() time.Time) Option {
	return func(h *Harvester) { h.now = now }
}

// New creates a stopped harvester that hands documents to intake.
func New(cfg config.HarvesterConfig, intake workflow.IntakeFunc, opts ...Option) *Harvester {
	h := &Harvester{
		cfg:        cfg,
		intake:     intake,
		classifier: NewClassifier(cfg.Keywords, cfg.ProjectLabels),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "harvester")
	h.seen = dedupe.New(cfg.DedupeTTL, dedupe.DefaultMaxSize, dedupe.WithClock(h.now))
	if h.dial == nil {
		h.dial = func(ctx context.Context) (Mailbox, error) {
			return DialIMAP(ctx, IMAPConfig{
				Addr:     cfg.IMAPAddr,
				Username: cfg.Username,
				Password: cfg.Password,
				Mailbox:  cfg.Mailbox,
			}, h.logger)
		}
	}
	return h
}

// Start begins polling. The first poll runs immediately. Starting a running
// harvester is a no-op. The loop is not tied to ctx cancellation.
func (h *Harvester) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}
	if h.cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", h.cfg.PollInterval)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(loopCtx, h.done)

	h.logger.Info("harvester polling", "mailbox", h.cfg.Mailbox, "interval", h.cfg.PollInterval)
	return nil
}

// Stop cancels polling and waits for an in-flight poll until ctx ends.
// Stopping a stopped harvester is a no-op.
func (h *Harvester) Stop(ctx context.Context) error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}
}

// Close stops polling and releases the dedupe cache.
func (h *Harvester) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.pollTimeout())
	defer cancel()
	err := h.Stop(ctx)
	h.seen.Close()
	return err
}

// Status reports the running state and the last poll outcome.
func (h *Harvester) Status() workflow.HarvesterStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := workflow.HarvesterStatus{
		Running:      h.cancel != nil,
		Mailbox:      h.cfg.Mailbox,
		PollInterval: h.cfg.PollInterval.String(),
		LastError:    h.lastError,
		Discovered:   h.discovered,
	}
	if h.lastPoll != nil {
		t := *h.lastPoll
		st.LastPoll = &t
	}
	return st
}

func (h *Harvester) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := h.Poll(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Harvester) pollTimeout() time.Duration {
	if h.cfg.Timeout > 0 {
		return h.cfg.Timeout
	}
	return time.Minute
}

// Poll runs one mailbox scan and returns how many documents were taken in.
func (h *Harvester) Poll(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.pollTimeout())
	defer cancel()

	n, err := h.poll(ctx)

	h.mu.Lock()
	at := h.now()
	h.lastPoll = &at
	h.discovered += n
	h.lastError = ""
	if err != nil {
		h.lastError = err.Error()
	}
	h.mu.Unlock()

	if n > 0 {
		h.logger.Info("documents harvested", "count", n)
	}
	return n, err
}

func (h *Harvester) poll(ctx context.Context) (int, error) {
	mb, err := h.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			h.logger.Debug("closing mailbox", "error", err)
		}
	}()

	msgs, err := mb.Unseen(ctx)
	if err != nil {
		return 0, err
	}

	taken := 0
	var handled []uint32
	var failures []error
	for _, msg := range msgs {
		n, matched, err := h.process(ctx, msg)
		taken += n
		switch {
		case err != nil:
			failures = append(failures, err)
		case matched:
			handled = append(handled, msg.UID)
		}
	}

	if err := mb.MarkSeen(ctx, handled); err != nil {
		failures = append(failures, err)
	}
	return taken, errors.Join(failures...)
}

// process takes in the PDFs of one message. Messages matching no keyword
// group are reported unmatched and left unread.
func (h *Harvester) process(ctx context.Context, msg Message) (int, bool, error) {
	docType, ok := h.classifier.DocType(msg.Subject, msg.Body)
	if !ok {
		return 0, false, nil
	}
	project := h.classifier.ProjectName(msg.Subject, msg.Body)

	taken := 0
	for _, att := range msg.Attachments {
		if !att.IsPDF() || len(att.Data) == 0 {
			continue
		}
		key := dedupe.ContentKey(att.Data)
		if h.seen.CheckAndMark(key) {
			h.logger.Debug("skipping duplicate attachment", "uid", msg.UID, "file", att.FileName)
			continue
		}

		_, err := h.intake(ctx, workflow.IntakeRequest{
			FileName:    att.FileName,
			Content:     att.Data,
			ProjectName: project,
			DocType:     docType,
			SenderEmail: optional(msg.FromAddress),
			SenderName:  optional(msg.FromName),
			Subject:     optional(msg.Subject),
		})
		if err != nil {
			h.seen.Forget(key)
			return taken, true, fmt.Errorf("intake of %q from message %d: %w", att.FileName, msg.UID, err)
		}
		taken++
	}
	return taken, true, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
