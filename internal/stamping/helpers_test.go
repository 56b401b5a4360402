// ABOUTME: Test fixtures for the stamping engine
// ABOUTME: Lays out an intake document and stamp images in a temp directory

package stamping

import (
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/stamping/stamptest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, stamptest.SolidPNG(w, h, c), 0644))
}

type fixture struct {
	dir       string
	original  string
	stampDir  string
	signedDir string
}

func newFixture(t *testing.T, pages int) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		dir:       dir,
		original:  filepath.Join(dir, "intake", "doc1.pdf"),
		stampDir:  filepath.Join(dir, "stamps"),
		signedDir: filepath.Join(dir, "signed"),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(fx.original), 0755))
	require.NoError(t, os.MkdirAll(fx.stampDir, 0755))
	require.NoError(t, os.WriteFile(fx.original, stamptest.MinimalPDF(pages), 0644))

	writePNG(t, filepath.Join(fx.stampDir, "engineer.png"), 40, 40, color.RGBA{R: 200, A: 255})
	writePNG(t, filepath.Join(fx.stampDir, "company.png"), 60, 30, color.RGBA{B: 200, A: 255})
	return fx
}

func (fx fixture) config() Config {
	return Config{
		StampDir:      fx.stampDir,
		SignedDir:     fx.signedDir,
		EngineerImage: "engineer.png",
		CompanyImage:  "company.png",
		Identity: Identity{
			EngineerName:  "Jordan Park",
			LicenseNumber: "PE-12345",
			RoleTitle:     "Professional Engineer",
		},
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}
