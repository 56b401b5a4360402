// ABOUTME: SMTP email sender for signed documents using go-mail
// ABOUTME: Renders a markdown body template to HTML with goldmark and attaches the signed PDF

package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	gomail "github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/stampdesk/internal/config"
	"github.com/2389/stampdesk/internal/store"
	"github.com/2389/stampdesk/internal/workflow"
)

// Mailer errors
var (
	ErrNotConfigured   = errors.New("email is not configured")
	ErrInvalidSettings = errors.New("invalid email settings")
)

// TLS policies accepted in settings.
const (
	TLSOpportunistic = "opportunistic"
	TLSMandatory     = "mandatory"
	TLSNone          = "none"
)

const pdfContentType gomail.ContentType = "application/pdf"

// TemplateData is the input to the subject and body templates.
type TemplateData struct {
	ProjectName string
	DocType     string
	Notes       string
	Recipient   string
	FileName    string
	ApprovedAt  string
}

// deliverFunc hands a built message to the transport.
type deliverFunc func(ctx context.Context, s workflow.EmailSettings, msg *gomail.Msg) error

// Mailer sends signed documents over SMTP. Settings can be replaced at
// runtime; sends in flight keep the settings they started with.
type Mailer struct {
	mu       sync.RWMutex
	settings workflow.EmailSettings

	timeout time.Duration
	subject *template.Template
	body    *template.Template
	md      goldmark.Markdown
	deliver deliverFunc
	logger  *slog.Logger
}

// New creates a mailer from the email config section. The mailer is
// configured when a host and from address are present.
func New(cfg config.EmailConfig, logger *slog.Logger) (*Mailer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	subject, err := template.New("subject").Parse(cfg.Subject)
	if err != nil {
		return nil, fmt.Errorf("parsing email subject template: %w", err)
	}
	body, err := template.New("body").Parse(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing email body template: %w", err)
	}

	m := &Mailer{
		timeout: cfg.Timeout,
		subject: subject,
		body:    body,
		md:      goldmark.New(goldmark.WithExtensions(extension.Linkify)),
		deliver: dialAndSend,
		logger:  logger.With("component", "mailer"),
	}
	m.settings = workflow.EmailSettings{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		FromName: cfg.FromName,
		TLS:      cfg.TLS,
	}
	m.settings.Configured = validate(m.settings) == nil
	return m, nil
}

// Settings returns the active settings without the password.
func (m *Mailer) Settings() workflow.EmailSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return redact(m.settings)
}

// Configure validates and applies new settings. An empty password keeps the
// current one.
func (m *Mailer) Configure(_ context.Context, s workflow.EmailSettings) (workflow.EmailSettings, error) {
	s.Host = strings.TrimSpace(s.Host)
	s.From = strings.TrimSpace(s.From)
	if s.TLS == "" {
		s.TLS = TLSOpportunistic
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Password == "" {
		s.Password = m.settings.Password
	}
	if err := validate(s); err != nil {
		return redact(m.settings), err
	}
	s.Configured = true
	m.settings = s
	m.logger.Info("smtp settings changed", "host", s.Host, "port", s.Port, "tls", s.TLS)
	return redact(s), nil
}

// Send emails the signed document to the recipient.
func (m *Mailer) Send(ctx context.Context, req workflow.SendRequest) (workflow.SendResult, error) {
	settings := m.current()
	if !settings.Configured {
		return workflow.SendResult{}, ErrNotConfigured
	}

	msg, err := m.BuildMessage(settings, req)
	if err != nil {
		return workflow.SendResult{}, err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := m.deliver(ctx, settings, msg); err != nil {
		return workflow.SendResult{}, fmt.Errorf("delivering to %s: %w", req.Recipient, err)
	}

	id := msg.GetMessageID()
	m.logger.Debug("message delivered", "recipient", req.Recipient, "messageId", id)
	return workflow.SendResult{MessageID: id}, nil
}

func (m *Mailer) current() workflow.EmailSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// BuildMessage renders the message for req without sending it.
func (m *Mailer) BuildMessage(s workflow.EmailSettings, req workflow.SendRequest) (*gomail.Msg, error) {
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("signed document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("signed document %s is a directory", req.FilePath)
	}

	data := templateData(req)
	var subject, body bytes.Buffer
	if err := m.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	if err := m.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}
	var html bytes.Buffer
	if err := m.md.Convert(body.Bytes(), &html); err != nil {
		return nil, fmt.Errorf("rendering body html: %w", err)
	}

	msg := gomail.NewMsg()
	if s.FromName != "" {
		err = msg.FromFormat(s.FromName, s.From)
	} else {
		err = msg.From(s.From)
	}
	if err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}
	if err := msg.To(req.Recipient); err != nil {
		return nil, fmt.Errorf("setting recipient: %w", err)
	}
	msg.Subject(strings.TrimSpace(subject.String()))
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, body.String())
	msg.AddAlternativeString(gomail.TypeTextHTML, html.String())
	msg.AttachFile(req.FilePath, gomail.WithFileName(filepath.Base(req.FilePath)), gomail.WithFileContentType(pdfContentType))
	return msg, nil
}

func templateData(req workflow.SendRequest) TemplateData {
	d := TemplateData{Recipient: req.Recipient, FileName: filepath.Base(req.FilePath)}
	e := req.Entry
	if e == nil {
		return d
	}
	d.ProjectName = e.ProjectName
	d.DocType = e.DocType
	d.Notes = e.Notes
	if at := approvedAt(e); !at.IsZero() {
		d.ApprovedAt = at.Format("2006-01-02")
	}
	return d
}

func approvedAt(e *store.SignatureEntry) time.Time {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Action == store.ActionApproved {
			return e.History[i].Timestamp
		}
	}
	return time.Time{}
}

func dialAndSend(ctx context.Context, s workflow.EmailSettings, msg *gomail.Msg) error {
	opts := []gomail.Option{gomail.WithPort(s.Port), gomail.WithTLSPolicy(tlsPolicy(s.TLS))}
	if s.Port == 465 && s.TLS != TLSNone {
		opts = append(opts, gomail.WithSSL())
	}
	if s.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.Username),
			gomail.WithPassword(s.Password),
		)
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		opts = append(opts, gomail.WithTimeout(remaining))
	}

	client, err := gomail.NewClient(s.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func tlsPolicy(name string) gomail.TLSPolicy {
	switch name {
	case TLSMandatory:
		return gomail.TLSMandatory
	case TLSNone:
		return gomail.NoTLS
	default:
		return gomail.TLSOpportunistic
	}
}

func validate(s workflow.EmailSettings) error {
	if s.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidSettings)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d is out of range", ErrInvalidSettings, s.Port)
	}
	if _, err := mail.ParseAddress(s.From); err != nil {
		return fmt.Errorf("%w: from address %q: %v", ErrInvalidSettings, s.From, err)
	}
	switch s.TLS {
	case TLSOpportunistic, TLSMandatory, TLSNone:
	default:
		return fmt.Errorf("%w: unknown tls policy %q", ErrInvalidSettings, s.TLS)
	}
	return nil
}

func redact(s workflow.EmailSettings) workflow.EmailSettings {
	s.Password = ""
	return s
}
