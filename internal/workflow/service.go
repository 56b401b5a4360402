// ABOUTME: Workflow service implementing intake, approval, rejection, sending and rollback
// ABOUTME: Enforces the status state machine and per-entry locking over the signature store

package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/stampdesk/internal/auditlog"
	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
)

// Stamper renders placements onto an entry's document.
type Stamper interface {
	Stamp(ctx context.Context, entry *store.SignatureEntry, placements []stamping.Placement, mode stamping.Mode) (*stamping.Result, error)
}

// Config holds workflow settings
type Config struct {
	// IntakeDir receives uploaded and harvested documents.
	IntakeDir string
}

// Service runs workflow operations. All methods are safe for concurrent use.
type Service struct {
	store     *store.Signatures
	stamper   Stamper
	mailer    Mailer
	harvester Harvester
	locks     *entryLocks
	cfg       Config
	logger    *slog.Logger

	// onProcessing is called after an entry is persisted as processing.
	onProcessing func(*store.SignatureEntry)
}

// Option configures a Service
type Option func(*Service)

// WithMailer sets the email sender.
func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// WithHarvester sets the mailbox harvester.
func WithHarvester(h Harvester) Option {
	return func(s *Service) { s.harvester = h }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a workflow service.
func NewService(st *store.Signatures, stamper Stamper, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   st,
		stamper: stamper,
		locks:   newEntryLocks(),
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "workflow")
	return s
}

// SetProcessingHook registers fn to observe entries entering the transient
// processing state during approval. Call before serving requests.
func (s *Service) SetProcessingHook(fn func(*store.SignatureEntry)) {
	s.onProcessing = fn
}

// SetHarvester attaches a harvester after construction. The harvester needs
// an intake path that is only available once the protocol server exists.
func (s *Service) SetHarvester(h Harvester) {
	s.harvester = h
}

// AddRequest creates an entry for a document already on disk.
type AddRequest struct {
	ProjectName      string
	DocType          string
	OriginalFilePath string
	SenderEmail      *string
	SenderName       *string
	Subject          *string
	Notes            string
}

// IntakeRequest creates an entry from document bytes.
type IntakeRequest struct {
	FileName    string
	Content     []byte
	ProjectName string
	DocType     string
	SenderEmail *string
	SenderName  *string
	Subject     *string
	Notes       string
}

// UpdateRequest edits descriptive fields. Status and file paths are only
// changed by workflow operations.
type UpdateRequest struct {
	ProjectName *string
	DocType     *string
	Notes       *string
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id string) (*store.SignatureEntry, error) {
	e, err := s.store.Get(ctx, id)
	return e, wrap("get", id, err)
}

// List returns entries matching f, newest first.
func (s *Service) List(ctx context.Context, f store.Filter) []*store.SignatureEntry {
	return s.store.GetAll(ctx, f)
}

// Stats returns per-status counts.
func (s *Service) Stats(ctx context.Context) store.Stats {
	return s.store.Stats(ctx)
}

// Add creates a pending entry.
func (s *Service) Add(ctx context.Context, req AddRequest) (*store.SignatureEntry, error) {
	const op = "add-signature"
	path := strings.TrimSpace(req.OriginalFilePath)
	if path == "" {
		return nil, newError(KindValidation, op, "", "originalFilePath is required", nil)
	}
	inside, err := withinDir(s.cfg.IntakeDir, path)
	if err != nil {
		return nil, newError(KindValidation, op, "", "originalFilePath cannot be resolved", err)
	}
	if !inside {
		return nil, newError(KindValidation, op, "", "originalFilePath must be inside the intake directory", nil)
	}
	name := strings.TrimSpace(req.ProjectName)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	e, err := s.store.Add(ctx, store.NewEntry{
		ProjectName:      name,
		DocType:          strings.TrimSpace(req.DocType),
		OriginalFilePath: path,
		SenderEmail:      req.SenderEmail,
		SenderName:       req.SenderName,
		Subject:          req.Subject,
		Notes:            req.Notes,
	})
	if err != nil {
		return nil, wrap(op, "", err)
	}
	s.logger.Log(ctx, auditlog.LevelSuccess, "signature request added", "id", e.ID, "project", e.ProjectName, "docType", e.DocType)
	return e, nil
}

// Upload decodes a base64 document into the intake directory and adds it.
func (s *Service) Upload(ctx context.Context, fileName, contentBase64, projectName, docType string) (*store.SignatureEntry, error) {
	content, err := base64.StdEncoding.DecodeString(stripDataURL(contentBase64))
	if err != nil {
		return nil, newError(KindValidation, "upload-document", "", "fileContentBase64 is not valid base64", err)
	}
	return s.Intake(ctx, IntakeRequest{
		FileName:    fileName,
		Content:     content,
		ProjectName: projectName,
		DocType:     docType,
	})
}

// Intake stores document bytes under a fresh name in the intake directory and
// adds a pending entry for them. Existing files are never overwritten.
func (s *Service) Intake(ctx context.Context, req IntakeRequest) (*store.SignatureEntry, error) {
	const op = "upload-document"
	base := filepath.Base(strings.TrimSpace(req.FileName))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return nil, newError(KindValidation, op, "", "fileName is required", nil)
	}
	if len(req.Content) == 0 {
		return nil, newError(KindValidation, op, "", "document is empty", nil)
	}

	if err := os.MkdirAll(s.cfg.IntakeDir, 0755); err != nil {
		return nil, newError(KindIO, op, "", "creating intake directory", err)
	}
	path := filepath.Join(s.cfg.IntakeDir, uuid.NewString()[:8]+"_"+base)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, newError(KindIO, op, "", "creating intake file", err)
	}
	if _, err := f.Write(req.Content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, newError(KindIO, op, "", "writing intake file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, newError(KindIO, op, "", "closing intake file", err)
	}

	project := req.ProjectName
	if strings.TrimSpace(project) == "" {
		project = strings.TrimSuffix(base, filepath.Ext(base))
	}
	e, err := s.Add(ctx, AddRequest{
		ProjectName:      project,
		DocType:          req.DocType,
		OriginalFilePath: path,
		SenderEmail:      req.SenderEmail,
		SenderName:       req.SenderName,
		Subject:          req.Subject,
		Notes:            req.Notes,
	})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return e, nil
}

// Update edits descriptive fields of an entry.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*store.SignatureEntry, error) {
	const op = "update-signature"
	if req.ProjectName == nil && req.DocType == nil && req.Notes == nil {
		return nil, newError(KindValidation, op, id, "no updatable fields supplied", nil)
	}
	e, err := s.store.Update(ctx, id, store.Changes{
		ProjectName: req.ProjectName,
		DocType:     req.DocType,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, wrap(op, id, err)
	}
	s.logger.Info("signature updated", "id", id)
	return e, nil
}

// lock claims id or returns a conflict error.
func (s *Service) lock(op, id string) (func(), error) {
	release, holder, ok := s.locks.tryLock(id, op)
	if !ok {
		return nil, newError(KindConflict, op, id, fmt.Sprintf("entry is busy with %s", holder), nil)
	}
	return release, nil
}

// Preview renders placements without persisting anything. Entry status is
// not changed.
func (s *Service) Preview(ctx context.Context, id string, placements []stamping.Placement) ([]byte, error) {
	const op = "preview-stamp"
	release, err := s.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	switch e.Status {
	case store.StatusPending:
	case store.StatusProcessing:
		return nil, newError(KindConflict, op, id, "entry is processing", nil)
	default:
		return nil, newError(KindValidation, op, id, fmt.Sprintf("cannot preview a %s entry", e.Status), nil)
	}

	res, err := s.stamper.Stamp(ctx, e, placements, stamping.ModePreview)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	s.logger.Debug("preview generated", "id", id, "bytes", len(res.Data))
	return res.Data, nil
}

// Approve stamps the document and moves the entry to approved. On stamping
// failure the entry returns to pending and the error is returned.
func (s *Service) Approve(ctx context.Context, id string, placements []stamping.Placement) (*store.SignatureEntry, error) {
	const op = "approve-signature"
	release, err := s.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	switch e.Status {
	case store.StatusPending:
	case store.StatusProcessing:
		return nil, newError(KindConflict, op, id, "entry is already processing", nil)
	default:
		return nil, newError(KindValidation, op, id, fmt.Sprintf("cannot approve a %s entry", e.Status), nil)
	}

	processing := store.StatusProcessing
	e, err = s.store.Update(ctx, id, store.Changes{
		Status:  &processing,
		Action:  store.ActionProcessing,
		Details: fmt.Sprintf("stamping %d placement(s)", len(placements)),
	})
	if err != nil {
		return nil, wrap(op, id, err)
	}
	if s.onProcessing != nil {
		s.onProcessing(e)
	}
	s.logger.Info("approval started", "id", id, "placements", len(placements))

	res, stampErr := s.stamper.Stamp(ctx, e, placements, stamping.ModeCommit)
	if stampErr != nil {
		s.revert(ctx, id, stampErr)
		return nil, wrap(op, id, stampErr)
	}

	approved := store.StatusApproved
	details := "signed document " + filepath.Base(res.OutputPath)
	if res.Legacy {
		details += " (default stamp)"
	}
	if res.Fallbacks > 0 {
		details += fmt.Sprintf(", %d stamp image(s) missing", res.Fallbacks)
	}
	e, err = s.store.Update(ctx, id, store.Changes{
		Status:            &approved,
		ProcessedFilePath: &res.OutputPath,
		Action:            store.ActionApproved,
		Details:           details,
	})
	if err != nil {
		_ = os.Remove(res.OutputPath)
		s.revert(ctx, id, err)
		return nil, wrap(op, id, err)
	}

	s.logger.Log(ctx, auditlog.LevelSuccess, "signature approved", "id", id, "project", e.ProjectName, "path", res.OutputPath)
	return e, nil
}

// revert returns a processing entry to pending after a failed approval.
func (s *Service) revert(ctx context.Context, id string, cause error) {
	pending := store.StatusPending
	_, err := s.store.Update(context.WithoutCancel(ctx), id, store.Changes{
		Status:             &pending,
		ClearProcessedFile: true,
		Action:             store.ActionReverted,
		Details:            "approval failed: " + cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to revert entry after approval failure", "id", id, "error", err)
		return
	}
	s.logger.Error("approval failed, entry returned to pending", "id", id, "error", cause)
}

// Reject moves a pending entry to rejected, recording reason in notes.
func (s *Service) Reject(ctx context.Context, id, reason string) (*store.SignatureEntry, error) {
	const op = "reject-signature"
	release, err := s.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	switch e.Status {
	case store.StatusPending:
	case store.StatusProcessing:
		return nil, newError(KindConflict, op, id, "entry is processing", nil)
	default:
		return nil, newError(KindValidation, op, id, fmt.Sprintf("cannot reject a %s entry", e.Status), nil)
	}

	rejected := store.StatusRejected
	ch := store.Changes{Status: &rejected, Action: store.ActionRejected, Details: "rejected"}
	if reason = strings.TrimSpace(reason); reason != "" {
		ch.Notes = &reason
		ch.Details = "rejected: " + reason
	}
	e, err = s.store.Update(ctx, id, ch)
	if err != nil {
		return nil, wrap(op, id, err)
	}
	s.logger.Warn("signature rejected", "id", id, "reason", reason)
	return e, nil
}

// Send emails the signed document and moves the entry to sent. On failure
// the entry stays approved.
func (s *Service) Send(ctx context.Context, id, recipient string) (*store.SignatureEntry, SendResult, error) {
	const op = "send-signed"
	addr, err := mail.ParseAddress(strings.TrimSpace(recipient))
	if err != nil {
		return nil, SendResult{}, newError(KindValidation, op, id, "recipientEmail is not a valid address", err)
	}

	release, err := s.lock(op, id)
	if err != nil {
		return nil, SendResult{}, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, SendResult{}, wrap(op, id, err)
	}
	if e.Status != store.StatusApproved {
		return nil, SendResult{}, newError(KindValidation, op, id, fmt.Sprintf("cannot send a %s entry", e.Status), nil)
	}
	path := e.SignedFile()
	if _, err := os.Stat(path); err != nil {
		return nil, SendResult{}, newError(KindNotFound, op, id, "signed document missing", err)
	}
	if s.mailer == nil {
		return nil, SendResult{}, newError(KindExternal, op, id, "email sender is not configured", nil)
	}

	res, err := s.mailer.Send(ctx, SendRequest{FilePath: path, Recipient: addr.Address, Entry: e})
	if err != nil {
		s.logger.Error("email send failed", "id", id, "recipient", addr.Address, "error", err)
		return nil, SendResult{}, newError(KindExternal, op, id, "sending email", err)
	}

	sent := store.StatusSent
	e, err = s.store.Update(ctx, id, store.Changes{
		Status:  &sent,
		Action:  store.ActionSent,
		Details: fmt.Sprintf("sent to %s (message %s)", addr.Address, res.MessageID),
	})
	if err != nil {
		return nil, SendResult{}, wrap(op, id, err)
	}
	s.logger.Log(ctx, auditlog.LevelSuccess, "signed document sent", "id", id, "recipient", addr.Address, "messageId", res.MessageID)
	return e, res, nil
}

// Rollback discards the signed document of an approved entry and returns it
// to pending. Rolling back a pending entry is a no-op and reports changed=false.
func (s *Service) Rollback(ctx context.Context, id string) (entry *store.SignatureEntry, changed bool, err error) {
	const op = "rollback"
	release, err := s.lock(op, id)
	if err != nil {
		return nil, false, err
	}
	defer release()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, wrap(op, id, err)
	}
	switch e.Status {
	case store.StatusPending:
		return e, false, nil
	case store.StatusApproved:
	default:
		return nil, false, newError(KindValidation, op, id, fmt.Sprintf("cannot roll back a %s entry", e.Status), nil)
	}

	if path := e.SignedFile(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, false, newError(KindIO, op, id, "deleting signed document", err)
		}
		// Drop the per-entry directory once empty.
		_ = os.Remove(filepath.Dir(path))
	}

	pending := store.StatusPending
	e, err = s.store.Update(ctx, id, store.Changes{
		Status:             &pending,
		ClearProcessedFile: true,
		Action:             store.ActionRollback,
		Details:            "signed document discarded",
	})
	if err != nil {
		return nil, false, wrap(op, id, err)
	}
	s.logger.Warn("approval rolled back", "id", id)
	return e, true, nil
}

// RecoverStale returns entries left processing by an interrupted run to
// pending. Call once at startup before accepting clients.
func (s *Service) RecoverStale(ctx context.Context) int {
	n := 0
	for _, e := range s.store.GetAll(ctx, store.Filter{Status: store.StatusProcessing}) {
		if s.locks.isHeld(e.ID) {
			continue
		}
		pending := store.StatusPending
		_, err := s.store.Update(ctx, e.ID, store.Changes{
			Status:             &pending,
			ClearProcessedFile: true,
			Action:             store.ActionRecovered,
			Details:            "interrupted approval recovered at startup",
		})
		if err != nil {
			s.logger.Error("failed to recover processing entry", "id", e.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Warn("recovered interrupted approvals", "count", n)
	}
	return n
}

// ConfigureEmail applies new email settings and returns the active ones.
func (s *Service) ConfigureEmail(ctx context.Context, settings EmailSettings) (EmailSettings, error) {
	const op = "configure-email"
	if s.mailer == nil {
		return EmailSettings{}, newError(KindExternal, op, "", "email sender is not available", nil)
	}
	out, err := s.mailer.Configure(ctx, settings)
	if err != nil {
		var we *Error
		if errors.As(err, &we) {
			return EmailSettings{}, err
		}
		return EmailSettings{}, newError(KindValidation, op, "", "invalid email settings", err)
	}
	s.logger.Info("email settings updated", "host", out.Host, "port", out.Port, "from", out.From)
	return out, nil
}

// EmailSettings returns the active email settings without the password.
func (s *Service) EmailSettings() EmailSettings {
	if s.mailer == nil {
		return EmailSettings{}
	}
	return s.mailer.Settings()
}

// StartHarvester starts mailbox polling.
func (s *Service) StartHarvester(ctx context.Context) (HarvesterStatus, error) {
	const op = "start-harvester"
	if s.harvester == nil {
		return HarvesterStatus{}, newError(KindExternal, op, "", "harvester is not configured", nil)
	}
	if err := s.harvester.Start(ctx); err != nil {
		return s.harvester.Status(), wrapExternal(op, err)
	}
	s.logger.Info("harvester started")
	return s.harvester.Status(), nil
}

// StopHarvester stops mailbox polling.
func (s *Service) StopHarvester(ctx context.Context) (HarvesterStatus, error) {
	const op = "stop-harvester"
	if s.harvester == nil {
		return HarvesterStatus{}, newError(KindExternal, op, "", "harvester is not configured", nil)
	}
	if err := s.harvester.Stop(ctx); err != nil {
		return s.harvester.Status(), wrapExternal(op, err)
	}
	s.logger.Info("harvester stopped")
	return s.harvester.Status(), nil
}

// HarvesterStatus reports the harvester state.
func (s *Service) HarvesterStatus() HarvesterStatus {
	if s.harvester == nil {
		return HarvesterStatus{}
	}
	return s.harvester.Status()
}

func wrapExternal(op string, err error) error {
	var we *Error
	if errors.As(err, &we) {
		return err
	}
	return newError(KindExternal, op, "", "", err)
}

// stripDataURL removes a "data:...;base64," prefix if present.
// withinDir reports whether path resolves to a location below dir.
func withinDir(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
