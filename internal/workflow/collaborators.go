// ABOUTME: Interfaces and request types for the external email sender and harvester
// ABOUTME: The workflow service depends only on these, never on SMTP or IMAP directly

package workflow

import (
	"context"
	"time"

	"github.com/2389/stampdesk/internal/store"
)

// SendRequest is one outbound delivery of a signed document.
type SendRequest struct {
	FilePath  string
	Recipient string
	Entry     *store.SignatureEntry
}

// SendResult reports a successful delivery.
type SendResult struct {
	MessageID string
}

// EmailSettings is the runtime email configuration. Password is write-only
// and never returned by Settings.
type EmailSettings struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	From       string `json:"from"`
	FromName   string `json:"fromName"`
	TLS        string `json:"tls"`
	Configured bool   `json:"configured"`
}

// Mailer sends signed documents and can be reconfigured at runtime.
type Mailer interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	Configure(ctx context.Context, settings EmailSettings) (EmailSettings, error)
	Settings() EmailSettings
}

// HarvesterStatus is the running state of the mailbox poller.
type HarvesterStatus struct {
	Running      bool       `json:"running"`
	Mailbox      string     `json:"mailbox,omitempty"`
	PollInterval string     `json:"pollInterval,omitempty"`
	LastPoll     *time.Time `json:"lastPoll,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	Discovered   int        `json:"discovered"`
}

// Harvester polls a mailbox and feeds attachments through intake.
type Harvester interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() HarvesterStatus
}

// IntakeFunc accepts one discovered document. The protocol server supplies one
// that also broadcasts the new entry.
type IntakeFunc func(ctx context.Context, req IntakeRequest) (*store.SignatureEntry, error)
