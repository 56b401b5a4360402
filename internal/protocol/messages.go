// ABOUTME: Wire schema for the workflow protocol: actions, request payloads and outbound frames
// ABOUTME: Actions are a closed set parsed up front; unknown names never reach dispatch

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/stampdesk/internal/auditlog"
	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
	"github.com/2389/stampdesk/internal/workflow"
)

// Action is one inbound request kind
type Action string

// Actions
const (
	ActionGetAll          Action = "get-all"
	ActionGetPending      Action = "get-pending"
	ActionGetStats        Action = "get-stats"
	ActionGetLogs         Action = "get-logs"
	ActionAddSignature    Action = "add-signature"
	ActionUploadDocument  Action = "upload-document"
	ActionUpdateSignature Action = "update-signature"
	ActionPreviewStamp    Action = "preview-stamp"
	ActionApprove         Action = "approve-signature"
	ActionReject          Action = "reject-signature"
	ActionSendSigned      Action = "send-signed"
	ActionRollback        Action = "rollback"
	ActionConfigureEmail  Action = "configure-email"
	ActionStartHarvester  Action = "start-harvester"
	ActionStopHarvester   Action = "stop-harvester"
)

// Actions lists every action the server accepts.
var Actions = []Action{
	ActionGetAll, ActionGetPending, ActionGetStats, ActionGetLogs,
	ActionAddSignature, ActionUploadDocument, ActionUpdateSignature,
	ActionPreviewStamp, ActionApprove, ActionReject, ActionSendSigned, ActionRollback,
	ActionConfigureEmail, ActionStartHarvester, ActionStopHarvester,
}

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if string(a) == name {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", name)
}

// ReadOnly reports whether the action only replies to the requester and
// never mutates state.
func (a Action) ReadOnly() bool {
	switch a {
	case ActionGetAll, ActionGetPending, ActionGetStats, ActionGetLogs:
		return true
	}
	return false
}

// Request is one inbound frame.
type Request struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type filterData struct {
	Status  string `json:"status"`
	DocType string `json:"docType"`
}

type logsData struct {
	Limit int `json:"limit"`
}

type addData struct {
	ProjectName      string  `json:"projectName"`
	DocType          string  `json:"docType"`
	OriginalFilePath string  `json:"originalFilePath"`
	SenderEmail      *string `json:"senderEmail"`
	SenderName       *string `json:"senderName"`
	Subject          *string `json:"subject"`
	Notes            string  `json:"notes"`
}

type uploadData struct {
	FileName          string `json:"fileName"`
	FileContentBase64 string `json:"fileContentBase64"`
	ProjectName       string `json:"projectName"`
	DocType           string `json:"docType"`
}

type updateData struct {
	ID          string  `json:"id"`
	ProjectName *string `json:"projectName"`
	DocType     *string `json:"docType"`
	Notes       *string `json:"notes"`

	// Present only to reject them.
	Status            json.RawMessage `json:"status"`
	OriginalFilePath  json.RawMessage `json:"originalFilePath"`
	ProcessedFilePath json.RawMessage `json:"processedFilePath"`
}

type idData struct {
	ID string `json:"id"`
}

// wirePlacement is a placement as sent by dashboards. Visible defaults to true.
type wirePlacement struct {
	Type     string  `json:"type"`
	ImageRef string  `json:"imageRef"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Page     int     `json:"page"`
	Visible  *bool   `json:"visible"`
}

func (w wirePlacement) placement() stamping.Placement {
	visible := true
	if w.Visible != nil {
		visible = *w.Visible
	}
	return stamping.Placement{
		Type:     stamping.StampType(w.Type),
		ImageRef: w.ImageRef,
		X:        w.X,
		Y:        w.Y,
		Width:    w.Width,
		Height:   w.Height,
		Rotation: w.Rotation,
		Page:     w.Page,
		Visible:  visible,
	}
}

type stampData struct {
	ID     string          `json:"id"`
	Stamps []wirePlacement `json:"stamps"`
}

func (d stampData) placements() []stamping.Placement {
	out := make([]stamping.Placement, 0, len(d.Stamps))
	for _, w := range d.Stamps {
		out = append(out, w.placement())
	}
	return out
}

type rejectData struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type sendData struct {
	ID             string `json:"id"`
	RecipientEmail string `json:"recipientEmail"`
}

// Outbound message types
const (
	TypeInit            = "init"
	TypeSignatures      = "signatures"
	TypeSignature       = "signature"
	TypeStats           = "stats"
	TypeLogs            = "logs"
	TypeLog             = "log"
	TypePreview         = "preview"
	TypeEmailConfig     = "email-config"
	TypeHarvesterStatus = "harvester-status"
	TypeError           = "error"

	TypeSignatureAdded    = "signature-added"
	TypeSignatureUpdated  = "signature-updated"
	TypeSignatureApproved = "signature-approved"
	TypeSignatureRejected = "signature-rejected"
	TypeSignatureSent     = "signature-sent"
	TypeSignatureRollback = "signature-rollback"
)

// InitMessage is the snapshot sent on connect.
type InitMessage struct {
	Type       string                  `json:"type"`
	SessionID  string                  `json:"sessionId"`
	Signatures []*store.SignatureEntry `json:"signatures"`
	Stats      store.Stats             `json:"stats"`
	Logs       []auditlog.Line         `json:"logs"`
}

// EventMessage is a broadcast state change.
type EventMessage struct {
	Type      string                `json:"type"`
	ID        string                `json:"id"`
	Signature *store.SignatureEntry `json:"signature"`
	Stats     store.Stats           `json:"stats"`
	MessageID string                `json:"messageId,omitempty"`
}

// SignaturesMessage answers get-all and get-pending.
type SignaturesMessage struct {
	Type       string                  `json:"type"`
	RequestID  string                  `json:"requestId,omitempty"`
	Signatures []*store.SignatureEntry `json:"signatures"`
	Stats      store.Stats             `json:"stats"`
}

// SignatureMessage returns one entry to the requester without a broadcast.
type SignatureMessage struct {
	Type      string                `json:"type"`
	RequestID string                `json:"requestId,omitempty"`
	Signature *store.SignatureEntry `json:"signature"`
}

// StatsMessage answers get-stats.
type StatsMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Stats     store.Stats `json:"stats"`
}

// LogsMessage answers get-logs.
type LogsMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Logs      []auditlog.Line `json:"logs"`
}

// LogMessage is one live audit line.
type LogMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// PreviewMessage carries a rendered preview as base64 PDF.
type PreviewMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	ID        string `json:"id"`
	MimeType  string `json:"mimeType"`
	Data      string `json:"data"`
}

// EmailConfigMessage answers configure-email.
type EmailConfigMessage struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Email     workflow.EmailSettings `json:"email"`
}

// HarvesterStatusMessage answers start-harvester and stop-harvester.
type HarvesterStatusMessage struct {
	Type      string                   `json:"type"`
	RequestID string                   `json:"requestId,omitempty"`
	Harvester workflow.HarvesterStatus `json:"harvester"`
}

// ErrorMessage reports a failed request to its sender only.
type ErrorMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
