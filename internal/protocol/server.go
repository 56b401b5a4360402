// ABOUTME: Workflow protocol server: connect snapshots, request dispatch and broadcasts
// ABOUTME: Transport-agnostic; the gateway feeds it frames from websocket connections

package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/2389/stampdesk/internal/auditlog"
	"github.com/2389/stampdesk/internal/store"
	"github.com/2389/stampdesk/internal/workflow"
)

// Config holds protocol server settings
type Config struct {
	// SnapshotTail is the number of audit lines sent in init.
	SnapshotTail int
	// SessionBuffer is the outbound queue size per session.
	SessionBuffer int
}

// Server dispatches protocol requests against the workflow service.
type Server struct {
	svc    *workflow.Service
	ring   *auditlog.Ring
	hub    *Hub
	cfg    Config
	logger *slog.Logger
}

// NewServer creates a server and registers it to broadcast the transient
// processing state of approvals.
func NewServer(svc *workflow.Service, ring *auditlog.Ring, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SnapshotTail <= 0 {
		cfg.SnapshotTail = 100
	}
	s := &Server{
		svc:    svc,
		ring:   ring,
		hub:    NewHub(logger),
		cfg:    cfg,
		logger: logger.With("component", "protocol"),
	}
	svc.SetProcessingHook(func(e *store.SignatureEntry) {
		s.broadcastEvent(TypeSignatureUpdated, e, "")
	})
	return s
}

// Run forwards audit lines to every session as log frames until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	lines, _ := s.ring.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			s.hub.Close()
			return nil
		case line, ok := <-lines:
			if !ok {
				s.hub.Close()
				return nil
			}
			s.hub.Broadcast(LogMessage{Type: TypeLog, Timestamp: line.Timestamp, Level: line.Level, Message: line.Message})
		}
	}
}

// Connect registers a new session and queues its init snapshot.
func (s *Server) Connect(ctx context.Context) *Session {
	sess := newSession(s.cfg.SessionBuffer)
	s.hub.register(sess, func() {
		sess.send(InitMessage{
			Type:       TypeInit,
			SessionID:  sess.ID,
			Signatures: s.svc.List(ctx, store.Filter{}),
			Stats:      s.svc.Stats(ctx),
			Logs:       s.ring.Tail(s.cfg.SnapshotTail),
		})
	})
	s.logger.Debug("client connected", "session", sess.ID)
	return sess
}

// Disconnect removes a session.
func (s *Server) Disconnect(sess *Session) {
	s.hub.unregister(sess)
	sess.Close()
	s.logger.Debug("client disconnected", "session", sess.ID)
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int {
	return s.hub.Len()
}

// Intake adds a discovered document and broadcasts it. The harvester uses
// this so harvested entries reach dashboards like uploads do.
func (s *Server) Intake(ctx context.Context, req workflow.IntakeRequest) (*store.SignatureEntry, error) {
	e, err := s.svc.Intake(ctx, req)
	if err != nil {
		return nil, err
	}
	s.broadcastEvent(TypeSignatureAdded, e, "")
	return e, nil
}

// Handle decodes and dispatches one inbound frame. Replies and errors are
// queued on sess; state changes are broadcast to every session.
func (s *Server) Handle(ctx context.Context, sess *Session, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.replyError(sess, "", "", workflow.KindValidation, "malformed message: "+err.Error())
		return
	}

	action, err := ParseAction(req.Action)
	if err != nil {
		s.replyError(sess, req.RequestID, req.Action, workflow.KindValidation, err.Error())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling request", "action", action, "panic", r, "stack", string(debug.Stack()))
			s.replyError(sess, req.RequestID, string(action), workflow.KindInternal, "internal error")
		}
	}()

	if err := s.dispatch(ctx, sess, action, req); err != nil {
		kind := workflow.KindOf(err)
		if kind != workflow.KindValidation && kind != workflow.KindNotFound && kind != workflow.KindConflict {
			s.logger.Error("request failed", "action", action, "error", err)
		}
		s.replyError(sess, req.RequestID, string(action), kind, err.Error())
	}
}

// dispatch covers every Action; ParseAction guarantees no other value arrives.
func (s *Server) dispatch(ctx context.Context, sess *Session, action Action, req Request) error {
	switch action {
	case ActionGetAll:
		var d filterData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		f := store.Filter{Status: store.Status(d.Status), DocType: d.DocType}
		if f.Status != "" && !f.Status.Valid() {
			return invalid(action, fmt.Sprintf("unknown status %q", d.Status))
		}
		sess.send(SignaturesMessage{Type: TypeSignatures, RequestID: req.RequestID, Signatures: s.svc.List(ctx, f), Stats: s.svc.Stats(ctx)})
		return nil

	case ActionGetPending:
		sess.send(SignaturesMessage{
			Type:       TypeSignatures,
			RequestID:  req.RequestID,
			Signatures: s.svc.List(ctx, store.Filter{Status: store.StatusPending}),
			Stats:      s.svc.Stats(ctx),
		})
		return nil

	case ActionGetStats:
		sess.send(StatsMessage{Type: TypeStats, RequestID: req.RequestID, Stats: s.svc.Stats(ctx)})
		return nil

	case ActionGetLogs:
		var d logsData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		sess.send(LogsMessage{Type: TypeLogs, RequestID: req.RequestID, Logs: s.ring.Tail(d.Limit)})
		return nil

	case ActionAddSignature:
		var d addData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		e, err := s.svc.Add(ctx, workflow.AddRequest{
			ProjectName:      d.ProjectName,
			DocType:          d.DocType,
			OriginalFilePath: d.OriginalFilePath,
			SenderEmail:      d.SenderEmail,
			SenderName:       d.SenderName,
			Subject:          d.Subject,
			Notes:            d.Notes,
		})
		if err != nil {
			return err
		}
		s.broadcastEvent(TypeSignatureAdded, e, "")
		return nil

	case ActionUploadDocument:
		var d uploadData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		e, err := s.svc.Upload(ctx, d.FileName, d.FileContentBase64, d.ProjectName, d.DocType)
		if err != nil {
			return err
		}
		s.broadcastEvent(TypeSignatureAdded, e, "")
		return nil

	case ActionUpdateSignature:
		var d updateData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		if d.Status != nil || d.OriginalFilePath != nil || d.ProcessedFilePath != nil {
			return invalid(action, "status and file paths can only change through workflow actions")
		}
		e, err := s.svc.Update(ctx, d.ID, workflow.UpdateRequest{ProjectName: d.ProjectName, DocType: d.DocType, Notes: d.Notes})
		if err != nil {
			return err
		}
		s.broadcastEvent(TypeSignatureUpdated, e, "")
		return nil

	case ActionPreviewStamp:
		var d stampData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		data, err := s.svc.Preview(ctx, d.ID, d.placements())
		if err != nil {
			return err
		}
		sess.send(PreviewMessage{
			Type:      TypePreview,
			RequestID: req.RequestID,
			ID:        d.ID,
			MimeType:  "application/pdf",
			Data:      base64.StdEncoding.EncodeToString(data),
		})
		return nil

	case ActionApprove:
		var d stampData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		e, err := s.svc.Approve(ctx, d.ID, d.placements())
		if err != nil {
			// A failed approval reverted the entry; dashboards saw "processing".
			if cur, gerr := s.svc.Get(ctx, d.ID); gerr == nil && cur.Status == store.StatusPending && workflow.KindOf(err) != workflow.KindConflict {
				s.broadcastEvent(TypeSignatureUpdated, cur, "")
			}
			return err
		}
		s.broadcastEvent(TypeSignatureApproved, e, "")
		return nil

	case ActionReject:
		var d rejectData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		reason := d.Reason
		if reason == "" {
			reason = d.Notes
		}
		e, err := s.svc.Reject(ctx, d.ID, reason)
		if err != nil {
			return err
		}
		s.broadcastEvent(TypeSignatureRejected, e, "")
		return nil

	case ActionSendSigned:
		var d sendData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		e, res, err := s.svc.Send(ctx, d.ID, d.RecipientEmail)
		if err != nil {
			return err
		}
		s.broadcastEvent(TypeSignatureSent, e, res.MessageID)
		return nil

	case ActionRollback:
		var d idData
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		if err := requireID(action, d.ID); err != nil {
			return err
		}
		e, changed, err := s.svc.Rollback(ctx, d.ID)
		if err != nil {
			return err
		}
		if !changed {
			sess.send(SignatureMessage{Type: TypeSignature, RequestID: req.RequestID, Signature: e})
			return nil
		}
		s.broadcastEvent(TypeSignatureRollback, e, "")
		return nil

	case ActionConfigureEmail:
		var d workflow.EmailSettings
		if err := decode(req.Data, &d); err != nil {
			return err
		}
		out, err := s.svc.ConfigureEmail(ctx, d)
		if err != nil {
			return err
		}
		sess.send(EmailConfigMessage{Type: TypeEmailConfig, RequestID: req.RequestID, Email: out})
		return nil

	case ActionStartHarvester:
		st, err := s.svc.StartHarvester(ctx)
		if err != nil {
			return err
		}
		sess.send(HarvesterStatusMessage{Type: TypeHarvesterStatus, RequestID: req.RequestID, Harvester: st})
		return nil

	case ActionStopHarvester:
		st, err := s.svc.StopHarvester(ctx)
		if err != nil {
			return err
		}
		sess.send(HarvesterStatusMessage{Type: TypeHarvesterStatus, RequestID: req.RequestID, Harvester: st})
		return nil
	}
	return &workflow.Error{Kind: workflow.KindInternal, Op: string(action), Message: "action has no handler"}
}

// broadcastEvent sends a state change with stats computed at broadcast time.
func (s *Server) broadcastEvent(msgType string, e *store.SignatureEntry, messageID string) {
	s.hub.BroadcastFunc(func() any {
		return EventMessage{
			Type:      msgType,
			ID:        e.ID,
			Signature: e,
			Stats:     s.svc.Stats(context.Background()),
			MessageID: messageID,
		}
	})
}

func (s *Server) replyError(sess *Session, requestID, action string, kind workflow.Kind, msg string) {
	sess.send(ErrorMessage{
		Type:      TypeError,
		RequestID: requestID,
		Action:    action,
		Code:      string(kind),
		Message:   msg,
	})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &workflow.Error{Kind: workflow.KindValidation, Op: "decode", Message: "invalid data", Err: err}
	}
	return nil
}

func requireID(action Action, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(action, "id is required")
	}
	return nil
}

func invalid(action Action, msg string) error {
	return &workflow.Error{Kind: workflow.KindValidation, Op: string(action), Message: msg}
}
