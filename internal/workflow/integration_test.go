// ABOUTME: Workflow tests against the real pdfcpu stamping engine
// ABOUTME: Checks that originals stay byte-identical and rollback removes signed output

package workflow

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/stamping/stamptest"
	"github.com/2389/stampdesk/internal/store"
)

func newEngineService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	stampDir := filepath.Join(dir, "stamps")
	require.NoError(t, os.MkdirAll(stampDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stampDir, "engineer.png"), stamptest.SolidPNG(32, 32, color.RGBA{R: 180, A: 255}), 0644))

	engine := stamping.New(stamping.Config{
		StampDir:      stampDir,
		SignedDir:     filepath.Join(dir, "signed"),
		EngineerImage: "engineer.png",
		CompanyImage:  "company.png", // absent: drawn as a signature line
		Identity:      stamping.Identity{EngineerName: "Jordan Park", LicenseNumber: "PE-1", RoleTitle: "Structural Engineer"},
	}, stamping.WithLogger(testLogger()), stamping.WithClock(func() time.Time { return time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC) }))

	st := store.Open(context.Background(), store.NewMemoryPersister(), store.WithLogger(testLogger()))
	svc := NewService(st, engine, Config{IntakeDir: filepath.Join(dir, "intake")}, WithLogger(testLogger()), WithMailer(&fakeMailer{}))
	return svc, dir
}

func TestEngine_OriginalUnchangedAcrossOperations(t *testing.T) {
	svc, _ := newEngineService(t)
	ctx := context.Background()
	original := stamptest.MinimalPDF(2)

	e, err := svc.Intake(ctx, IntakeRequest{FileName: "doc1.pdf", Content: original, ProjectName: "Tower A", DocType: "Form 4"})
	require.NoError(t, err)

	placements := []stamping.Placement{
		{Type: stamping.StampEngineer, Page: 1, X: 400, Y: 100, Width: 80, Height: 80, Visible: true},
		{Type: stamping.StampCompany, Page: 2, X: 100, Y: 120, Width: 100, Height: 50, Rotation: 90, Visible: true},
	}

	assertOriginal := func() {
		t.Helper()
		got, err := os.ReadFile(e.OriginalFilePath)
		require.NoError(t, err)
		assert.Equal(t, original, got)
	}

	_, err = svc.Preview(ctx, e.ID, placements)
	require.NoError(t, err)
	assertOriginal()

	approved, err := svc.Approve(ctx, e.ID, placements)
	require.NoError(t, err)
	assert.Equal(t, store.StatusApproved, approved.Status)
	assert.FileExists(t, approved.SignedFile())
	assertOriginal()

	back, changed, err := svc.Rollback(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, back.ProcessedFilePath)
	assert.NoFileExists(t, approved.SignedFile())
	assertOriginal()

	_, changed, err = svc.Rollback(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	again, err := svc.Approve(ctx, e.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, again.History[len(again.History)-1].Details, "default stamp")
	assertOriginal()
}

func TestEngine_BadPlacementRevertsToPending(t *testing.T) {
	svc, _ := newEngineService(t)
	ctx := context.Background()

	e, err := svc.Intake(ctx, IntakeRequest{FileName: "doc1.pdf", Content: stamptest.MinimalPDF(1)})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, e.ID, []stamping.Placement{{Type: stamping.StampEngineer, Page: 5, Width: 10, Height: 10, Visible: true}})
	assert.Equal(t, KindValidation, KindOf(err))

	got, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
}

func TestEngine_MissingOriginalIsNotFound(t *testing.T) {
	svc, dir := newEngineService(t)
	ctx := context.Background()

	e, err := svc.Add(ctx, AddRequest{ProjectName: "Tower A", OriginalFilePath: filepath.Join(dir, "intake", "nowhere.pdf")})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, e.ID, nil)
	assert.Equal(t, KindNotFound, KindOf(err))
}
