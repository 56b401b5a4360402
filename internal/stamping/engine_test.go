// ABOUTME: Rendering tests for the stamping engine against generated PDFs
// ABOUTME: Covers commit/preview modes, fallbacks, legacy mode, errors and determinism

package stamping

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/store"
)

var fixedDay = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func newTestEngine(fx fixture) *Engine {
	return New(fx.config(), WithLogger(testLogger()), WithClock(func() time.Time { return fixedDay }))
}

func entryFor(fx fixture) *store.SignatureEntry {
	return &store.SignatureEntry{ID: "entry-1", ProjectName: "Tower A", DocType: "Form 4", OriginalFilePath: fx.original, Status: store.StatusProcessing}
}

func engineerAt(page int) Placement {
	return Placement{Type: StampEngineer, Page: page, X: 400, Y: 100, Width: 80, Height: 80, Visible: true}
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	n, err := api.PageCount(bytes.NewReader(data), newConfiguration())
	require.NoError(t, err)
	return n
}

func TestStamp_CommitWritesSignedCopy(t *testing.T) {
	fx := newFixture(t, 2)
	e := newTestEngine(fx)
	original, err := os.ReadFile(fx.original)
	require.NoError(t, err)

	res, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModeCommit)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(fx.signedDir, "entry-1", "doc1_signed.pdf"), res.OutputPath)
	assert.Equal(t, []int{1}, res.Pages)
	assert.False(t, res.Legacy)
	assert.Zero(t, res.Fallbacks)

	written, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, res.Data, written)
	assert.NotEqual(t, original, written)
	assert.Equal(t, 2, pageCount(t, written))

	after, err := os.ReadFile(fx.original)
	require.NoError(t, err)
	assert.Equal(t, original, after, "original must not be modified")
}

func TestStamp_PreviewWritesNothing(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)

	res, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModePreview)
	require.NoError(t, err)

	assert.Empty(t, res.OutputPath)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("%PDF")))
	assert.NoDirExists(t, fx.signedDir)
}

func TestStamp_MultiplePagesAndTypes(t *testing.T) {
	fx := newFixture(t, 3)
	e := newTestEngine(fx)

	company := Placement{Type: StampCompany, Page: 3, X: 300, Y: 200, Width: 120, Height: 60, Rotation: 15, Visible: true}
	hidden := engineerAt(2)
	hidden.Visible = false

	res, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1), hidden, company, engineerAt(3)}, ModeCommit)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, res.Pages)
	assert.Equal(t, 3, pageCount(t, res.Data))
}

func TestStamp_MissingImageDrawsLine(t *testing.T) {
	fx := newFixture(t, 1)
	require.NoError(t, os.Remove(filepath.Join(fx.stampDir, "engineer.png")))
	e := newTestEngine(fx)

	res, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModeCommit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fallbacks)
	assert.FileExists(t, res.OutputPath)
}

func TestStamp_LegacyModeUsesLastPage(t *testing.T) {
	fx := newFixture(t, 3)
	e := newTestEngine(fx)

	res, err := e.Stamp(context.Background(), entryFor(fx), nil, ModeCommit)
	require.NoError(t, err)
	assert.True(t, res.Legacy)
	assert.Equal(t, []int{3}, res.Pages)
}

func TestStamp_MissingOriginal(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)
	entry := entryFor(fx)
	entry.OriginalFilePath = filepath.Join(fx.dir, "gone.pdf")

	_, err := e.Stamp(context.Background(), entry, []Placement{engineerAt(1)}, ModeCommit)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestStamp_NotAPDF(t *testing.T) {
	fx := newFixture(t, 1)
	writeFile(t, fx.original, []byte("plain text, not a pdf"))
	e := newTestEngine(fx)

	_, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModePreview)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestStamp_PlacementErrors(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)

	hidden := engineerAt(1)
	hidden.Visible = false

	_, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(2)}, ModeCommit)
	assert.ErrorIs(t, err, ErrInvalidPlacement)

	_, err = e.Stamp(context.Background(), entryFor(fx), []Placement{hidden}, ModeCommit)
	assert.ErrorIs(t, err, ErrInvalidPlacement)

	_, err = e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, Mode("draft"))
	assert.ErrorIs(t, err, ErrInvalidPlacement)

	assert.NoDirExists(t, fx.signedDir)
}

func TestStamp_CancelledContext(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Stamp(ctx, entryFor(fx), []Placement{engineerAt(1)}, ModeCommit)
	assert.ErrorIs(t, err, context.Canceled)
}

var volatile = regexp.MustCompile(`/(ModDate|CreationDate)\s*(\([^)]*\)|<[0-9A-Fa-f]*>)|/ID\s*\[\s*<[0-9A-Fa-f]*>\s*<[0-9A-Fa-f]*>\s*\]`)

func normalize(pdf []byte) []byte {
	return volatile.ReplaceAll(pdf, []byte("/X"))
}

func TestStamp_Deterministic(t *testing.T) {
	fx := newFixture(t, 2)
	e := newTestEngine(fx)
	placements := []Placement{
		engineerAt(2),
		{Type: StampCompany, Page: 1, X: 50, Y: 60, Width: 90, Height: 45, Rotation: 30, Visible: true},
	}

	first, err := e.Stamp(context.Background(), entryFor(fx), placements, ModeCommit)
	require.NoError(t, err)
	want := normalize(first.Data)

	for run := 0; run < 10; run++ {
		again, err := e.Stamp(context.Background(), entryFor(fx), placements, ModeCommit)
		require.NoError(t, err)
		require.Equal(t, want, normalize(again.Data), "run %d", run)
	}
}

func TestStamp_ObjectsInNumberOrder(t *testing.T) {
	fx := newFixture(t, 2)
	e := newTestEngine(fx)

	res, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1), engineerAt(2)}, ModePreview)
	require.NoError(t, err)

	headers := regexp.MustCompile(`(?m)^(\d+) 0 obj`).FindAllSubmatch(res.Data, -1)
	require.NotEmpty(t, headers)
	prev := 0
	for _, h := range headers {
		nr, err := strconv.Atoi(string(h[1]))
		require.NoError(t, err)
		assert.Greater(t, nr, prev)
		prev = nr
	}
}

func TestStamp_RejectsBoxOutsidePage(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)

	for name, p := range map[string]Placement{
		"oversized": {Type: StampEngineer, Page: 1, Width: 30000, Height: 30000, Visible: true},
		"off page":  {Type: StampEngineer, Page: 1, X: -5000, Y: 100, Width: 80, Height: 80, Visible: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Stamp(context.Background(), entryFor(fx), []Placement{p}, ModePreview)
			assert.ErrorIs(t, err, ErrInvalidPlacement)
		})
	}
}

func TestStamp_RollbackFriendlyOverwrite(t *testing.T) {
	fx := newFixture(t, 1)
	e := newTestEngine(fx)

	first, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModeCommit)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first.OutputPath))

	second, err := e.Stamp(context.Background(), entryFor(fx), []Placement{engineerAt(1)}, ModeCommit)
	require.NoError(t, err)
	assert.Equal(t, first.OutputPath, second.OutputPath)

	entries, err := os.ReadDir(filepath.Dir(second.OutputPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
