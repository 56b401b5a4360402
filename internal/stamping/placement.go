// ABOUTME: Stamp placement types, validation and the legacy default placement
// ABOUTME: Groups visible placements by page in a stable order for rendering

package stamping

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrSourceNotFound is returned when the original document cannot be read.
var ErrSourceNotFound = errors.New("source document not found")

// ErrInvalidPlacement is returned for malformed or out-of-range placements.
var ErrInvalidPlacement = errors.New("invalid stamp placement")

// StampType selects the default image for a placement
type StampType string

// Stamp types
const (
	StampEngineer StampType = "engineer"
	StampCompany  StampType = "company"
)

// Placement positions one stamp image on one page.
type Placement struct {
	Type     StampType `json:"type"`
	ImageRef string    `json:"imageRef,omitempty"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Rotation float64   `json:"rotation"`
	Page     int       `json:"page"`
	Visible  bool      `json:"visible"`
}

// Legacy default stamp geometry, used when an approval supplies no placements.
const (
	legacyX      = 400
	legacyY      = 100
	legacyWidth  = 80
	legacyHeight = 80
)

// LegacyPlacement is the single fixed engineer stamp on the last page,
// pulled inside the page when the page is smaller than the default box.
func LegacyPlacement(pages []types.Dim) Placement {
	last := pages[len(pages)-1]
	w := math.Min(legacyWidth, last.Width)
	h := math.Min(legacyHeight, last.Height)
	return Placement{
		Type:    StampEngineer,
		X:       math.Min(legacyX, last.Width-w),
		Y:       math.Min(legacyY, last.Height-h),
		Width:   w,
		Height:  h,
		Page:    len(pages),
		Visible: true,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks one placement against the document's page dimensions. The
// unrotated box must lie on its page.
func (p Placement) Validate(pages []types.Dim) error {
	pageCount := len(pages)
	switch p.Type {
	case StampEngineer, StampCompany:
	default:
		return fmt.Errorf("%w: unknown stamp type %q", ErrInvalidPlacement, p.Type)
	}
	if p.Page < 1 || p.Page > pageCount {
		return fmt.Errorf("%w: page %d outside 1..%d", ErrInvalidPlacement, p.Page, pageCount)
	}
	fields := []struct {
		name string
		v    float64
	}{{"x", p.X}, {"y", p.Y}, {"width", p.Width}, {"height", p.Height}, {"rotation", p.Rotation}}
	for _, f := range fields {
		if !finite(f.v) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidPlacement, f.name)
		}
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive", ErrInvalidPlacement)
	}
	dim := pages[p.Page-1]
	if p.X < 0 || p.Y < 0 || p.X+p.Width > dim.Width || p.Y+p.Height > dim.Height {
		return fmt.Errorf("%w: box %s,%s %sx%s outside page %d (%sx%s)", ErrInvalidPlacement,
			num(p.X), num(p.Y), num(p.Width), num(p.Height), p.Page, num(dim.Width), num(dim.Height))
	}
	return nil
}

// pagePlan is the rendering work for one page.
type pagePlan struct {
	page       int
	placements []Placement
}

// bounds returns the axis-aligned box around every placement on the page.
func (pp pagePlan) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range pp.placements {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X+p.Width)
		maxY = math.Max(maxY, p.Y+p.Height)
	}
	return minX, minY, maxX, maxY
}

// plan validates placements and groups the visible ones by ascending page,
// keeping request order within a page.
func plan(placements []Placement, pages []types.Dim) ([]pagePlan, error) {
	byPage := make(map[int][]Placement)
	for i, p := range placements {
		if err := p.Validate(pages); err != nil {
			return nil, fmt.Errorf("placement %d: %w", i, err)
		}
		if p.Visible {
			byPage[p.Page] = append(byPage[p.Page], p)
		}
	}
	if len(byPage) == 0 {
		return nil, fmt.Errorf("%w: no visible placements", ErrInvalidPlacement)
	}

	order := make([]int, 0, len(byPage))
	for page := range byPage {
		order = append(order, page)
	}
	sort.Ints(order)

	out := make([]pagePlan, 0, len(order))
	for _, page := range order {
		out = append(out, pagePlan{page: page, placements: byPage[page]})
	}
	return out, nil
}
