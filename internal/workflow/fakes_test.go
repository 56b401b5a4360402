// ABOUTME: Fake collaborators for workflow tests
// ABOUTME: Stamper, mailer and harvester doubles with injectable failures

package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStamper struct {
	mu        sync.Mutex
	signedDir string
	err       error
	calls     []stamping.Mode
	block     chan struct{} // if set, Stamp waits on it
	entered   chan struct{} // if set, signalled when Stamp starts
}

func (f *fakeStamper) Stamp(ctx context.Context, e *store.SignatureEntry, _ []stamping.Placement, mode stamping.Mode) (*stamping.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mode)
	err, block, entered := f.err, f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	data := []byte("%PDF-stamped-" + e.ID)
	if mode == stamping.ModePreview {
		return &stamping.Result{Mode: mode, Data: data}, nil
	}
	path := filepath.Join(f.signedDir, e.ID, "doc_signed.pdf")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}
	return &stamping.Result{Mode: mode, OutputPath: path, Data: data, Pages: []int{1}}, nil
}

func (f *fakeStamper) modes() []stamping.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stamping.Mode(nil), f.calls...)
}

type fakeMailer struct {
	mu       sync.Mutex
	err      error
	sent     []SendRequest
	settings EmailSettings
}

func (m *fakeMailer) Send(_ context.Context, req SendRequest) (SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return SendResult{}, m.err
	}
	m.sent = append(m.sent, req)
	return SendResult{MessageID: "<msg-1@stampdesk>"}, nil
}

func (m *fakeMailer) Configure(_ context.Context, s EmailSettings) (EmailSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Host == "" {
		return EmailSettings{}, errors.New("host is required")
	}
	s.Password = ""
	s.Configured = true
	m.settings = s
	return s, nil
}

func (m *fakeMailer) Settings() EmailSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

type fakeHarvester struct {
	mu       sync.Mutex
	running  bool
	startErr error
}

func (h *fakeHarvester) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.running = true
	return nil
}

func (h *fakeHarvester) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

func (h *fakeHarvester) Status() HarvesterStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HarvesterStatus{Running: h.running, Mailbox: "INBOX"}
}

type harness struct {
	svc     *Service
	store   *store.Signatures
	stamper *fakeStamper
	mailer  *fakeMailer
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	st := store.Open(context.Background(), store.NewMemoryPersister(), store.WithLogger(testLogger()))
	stamper := &fakeStamper{signedDir: filepath.Join(dir, "signed")}
	mailer := &fakeMailer{}
	svc := NewService(st, stamper, Config{IntakeDir: filepath.Join(dir, "intake")},
		WithLogger(testLogger()),
		WithMailer(mailer),
		WithHarvester(&fakeHarvester{}),
	)
	return &harness{svc: svc, store: st, stamper: stamper, mailer: mailer, dir: dir}
}

// addDoc creates a pending entry backed by a real file.
func (h *harness) addDoc(t *testing.T) *store.SignatureEntry {
	t.Helper()
	path := filepath.Join(h.dir, "intake", "doc1.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-original"), 0644))
	e, err := h.svc.Add(context.Background(), AddRequest{ProjectName: "Tower A", DocType: "Form 4", OriginalFilePath: path})
	require.NoError(t, err)
	return e
}

func engineerStamp() []stamping.Placement {
	return []stamping.Placement{{Type: stamping.StampEngineer, Page: 1, X: 400, Y: 100, Width: 80, Height: 80, Visible: true}}
}
