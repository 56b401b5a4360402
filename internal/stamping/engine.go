// ABOUTME: Stamping engine that renders placements onto PDFs with pdfcpu
// ABOUTME: Commit mode writes a signed copy, preview mode returns the rendered bytes

package stamping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/2389/stampdesk/internal/store"
)

// ErrInvalidDocument is returned when the original cannot be parsed as a PDF.
var ErrInvalidDocument = errors.New("invalid source document")

// Mode selects whether a rendering is persisted
type Mode string

// Modes
const (
	ModeCommit  Mode = "commit"
	ModePreview Mode = "preview"
)

// Layout constants, in points.
const (
	panelPadding     = 6.0
	identityGap      = 4.0
	identityFontSize = 8
	identityLeading  = 10.0
	pageMargin       = 4.0
)

// Identity is the signer block printed under the stamps.
type Identity struct {
	EngineerName  string
	LicenseNumber string
	RoleTitle     string
}

// Config locates stamp images and the signed output directory.
type Config struct {
	StampDir      string
	SignedDir     string
	EngineerImage string
	CompanyImage  string
	Identity      Identity
}

// Result is the outcome of one Stamp call.
type Result struct {
	Mode       Mode
	OutputPath string // commit mode only
	Data       []byte
	Pages      []int
	Legacy     bool
	Fallbacks  int // placements drawn as a signature line
	RenderedAt time.Time
}

// Engine renders stamps. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the date printed in the identity block.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

var disableConfigDir sync.Once

// New creates an engine.
func New(cfg Config, opts ...Option) *Engine {
	// pdfcpu otherwise creates a config directory under the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "stamping")
	return e
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	// The font and image dedupe pass picks survivors in map order.
	conf.Optimize = false
	conf.OptimizeBeforeWriting = false
	conf.OptimizeResourceDicts = false
	// canonicalOrder needs a classic xref table.
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return conf
}

// SignedPath returns where commit mode writes the signed copy of entry.
func (e *Engine) SignedPath(entry *store.SignatureEntry) string {
	base := filepath.Base(entry.OriginalFilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(e.cfg.SignedDir, entry.ID, name+"_signed"+ext)
}

// Stamp renders placements onto the entry's original document. An empty
// placement list renders the legacy single stamp on the last page.
func (e *Engine) Stamp(ctx context.Context, entry *store.SignatureEntry, placements []Placement, mode Mode) (*Result, error) {
	if mode != ModeCommit && mode != ModePreview {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidPlacement, mode)
	}

	src, err := os.ReadFile(entry.OriginalFilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, entry.OriginalFilePath, err)
	}

	dims, err := api.PageDims(bytes.NewReader(src), newConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}

	res := &Result{Mode: mode, RenderedAt: e.now()}
	if len(placements) == 0 {
		placements = []Placement{LegacyPlacement(dims)}
		res.Legacy = true
	}

	plans, err := plan(placements, dims)
	if err != nil {
		return nil, err
	}

	ops, fallbacks, err := e.operations(entry, plans, res.RenderedAt)
	if err != nil {
		return nil, err
	}
	res.Fallbacks = fallbacks

	out := src
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		err := api.AddWatermarks(bytes.NewReader(out), &buf, []string{strconv.Itoa(op.page)}, op.wm, newConfiguration())
		if err != nil {
			return nil, fmt.Errorf("rendering %s on page %d: %w", op.what, op.page, err)
		}
		out = buf.Bytes()
	}

	if canon, err := canonicalOrder(out); err != nil {
		e.logger.Warn("keeping writer object order", "id", entry.ID, "error", err)
	} else {
		out = canon
	}

	for _, pp := range plans {
		res.Pages = append(res.Pages, pp.page)
	}
	res.Data = out

	if mode == ModePreview {
		e.logger.Debug("preview rendered", "id", entry.ID, "pages", res.Pages, "bytes", len(out))
		return res, nil
	}

	path := e.SignedPath(entry)
	if err := writeFileAtomic(path, out); err != nil {
		return nil, err
	}
	res.OutputPath = path
	e.logger.Info("signed document written", "id", entry.ID, "path", path, "pages", res.Pages)
	return res, nil
}

// stampOp is one pdfcpu stamp pass.
type stampOp struct {
	page int
	what string
	wm   *model.Watermark
}

// operations builds the ordered stamp passes: per page a panel then each
// placement, and the identity block last on the highest page.
func (e *Engine) operations(entry *store.SignatureEntry, plans []pagePlan, at time.Time) ([]stampOp, int, error) {
	var ops []stampOp
	fallbacks := 0

	last := plans[len(plans)-1]
	idLines := e.identityLines(at)
	_, lowestY, _, _ := last.bounds()
	idX, idY := e.identityOrigin(last, lowestY, len(idLines))

	for _, pp := range plans {
		minX, minY, maxX, maxY := pp.bounds()
		if pp.page == last.page {
			minY = math.Min(minY, idY)
			minX = math.Min(minX, idX)
		}
		px := math.Max(minX-panelPadding, 0)
		py := math.Max(minY-panelPadding, 0)
		pw := maxX + panelPadding - px
		ph := maxY + panelPadding - py

		panel, err := panelImage(pw, ph)
		if err != nil {
			return nil, 0, err
		}
		wm, err := imageWatermark(panel, px, py, 0, rasterDensity(pw, ph))
		if err != nil {
			return nil, 0, fmt.Errorf("building panel: %w", err)
		}
		ops = append(ops, stampOp{page: pp.page, what: "panel", wm: wm})

		for _, p := range pp.placements {
			img, err := loadStamp(e.imagePath(p), p.Width, p.Height)
			if err != nil {
				e.logger.Warn("stamp image unavailable, drawing signature line",
					"id", entry.ID, "type", p.Type, "page", p.Page, "error", err)
				fallbacks++
				if img, err = signatureLine(p.Width, p.Height); err != nil {
					return nil, 0, err
				}
			}
			wm, err := imageWatermark(img, p.X, p.Y, p.Rotation, rasterDensity(p.Width, p.Height))
			if err != nil {
				return nil, 0, fmt.Errorf("building %s stamp: %w", p.Type, err)
			}
			ops = append(ops, stampOp{page: pp.page, what: string(p.Type) + " stamp", wm: wm})
		}
	}

	for i, line := range idLines {
		desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:bl, offset:%s %s, scalefactor:1 abs, rotation:0, fillcolor:#000000, opacity:1",
			identityFontSize, num(idX), num(idY+float64(len(idLines)-1-i)*identityLeading))
		wm, err := api.TextWatermark(line, desc, true, false, types.POINTS)
		if err != nil {
			return nil, 0, fmt.Errorf("building identity block: %w", err)
		}
		ops = append(ops, stampOp{page: last.page, what: "identity block", wm: wm})
	}
	return ops, fallbacks, nil
}

// identityLines lists the non-empty identity fields followed by the date.
func (e *Engine) identityLines(at time.Time) []string {
	id := e.cfg.Identity
	var lines []string
	if id.EngineerName != "" {
		lines = append(lines, id.EngineerName)
	}
	if id.LicenseNumber != "" {
		lines = append(lines, "License No. "+id.LicenseNumber)
	}
	if id.RoleTitle != "" {
		lines = append(lines, id.RoleTitle)
	}
	return append(lines, "Date: "+at.Format("2006-01-02"))
}

// identityOrigin returns the bottom-left of the identity block, just below
// the lowest placement and kept above the page margin.
func (e *Engine) identityOrigin(last pagePlan, lowestY float64, lines int) (float64, float64) {
	minX, _, _, _ := last.bounds()
	height := float64(lines-1)*identityLeading + identityFontSize
	y := lowestY - identityGap - height
	if y < pageMargin {
		y = pageMargin
	}
	return math.Max(minX, pageMargin), y
}

func (e *Engine) imagePath(p Placement) string {
	ref := p.ImageRef
	if ref == "" {
		switch p.Type {
		case StampCompany:
			ref = e.cfg.CompanyImage
		default:
			ref = e.cfg.EngineerImage
		}
	}
	// Image refs never leave the stamp directory.
	return filepath.Join(e.cfg.StampDir, filepath.Base(ref))
}

// imageWatermark places png with its bottom-left corner at x,y. density is
// the pixels per point the image was rasterized at.
func imageWatermark(png []byte, x, y, rotation, density float64) (*model.Watermark, error) {
	desc := fmt.Sprintf("position:bl, offset:%s %s, scalefactor:%s abs, rotation:%s, opacity:1",
		num(x), num(y), num(1/density), num(pdfRotation(rotation)))
	return api.ImageWatermarkForReader(bytes.NewReader(png), desc, true, false, types.POINTS)
}

// pdfRotation converts clockwise degrees to pdfcpu's counter-clockwise range
// of -180..180.
func pdfRotation(clockwise float64) float64 {
	r := math.Mod(-clockwise, 360)
	switch {
	case r > 180:
		r -= 360
	case r < -180:
		r += 360
	}
	if r == 0 {
		return 0
	}
	return r
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating signed directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stamp-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp output: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("writing signed document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("closing signed document: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("placing signed document: %w", err)
	}
	return nil
}
