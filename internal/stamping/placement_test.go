// ABOUTME: Tests for placement validation, page grouping and rotation conversion
// ABOUTME: Pure functions, no PDF rendering

package stamping

import (
	"math"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/store"
)

func letterPages(n int) []types.Dim {
	dims := make([]types.Dim, n)
	for i := range dims {
		dims[i] = types.Dim{Width: 612, Height: 792}
	}
	return dims
}

func valid() Placement {
	return Placement{Type: StampEngineer, Page: 1, X: 400, Y: 100, Width: 80, Height: 80, Visible: true}
}

func TestPlacementValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Placement)
		ok     bool
	}{
		{"valid", func(p *Placement) {}, true},
		{"company", func(p *Placement) { p.Type = StampCompany }, true},
		{"unknown type", func(p *Placement) { p.Type = "notary" }, false},
		{"page zero", func(p *Placement) { p.Page = 0 }, false},
		{"page past end", func(p *Placement) { p.Page = 3 }, false},
		{"zero width", func(p *Placement) { p.Width = 0 }, false},
		{"negative height", func(p *Placement) { p.Height = -5 }, false},
		{"nan x", func(p *Placement) { p.X = math.NaN() }, false},
		{"inf rotation", func(p *Placement) { p.Rotation = math.Inf(1) }, false},
		{"fills page", func(p *Placement) { p.X, p.Y, p.Width, p.Height = 0, 0, 612, 792 }, true},
		{"left of page", func(p *Placement) { p.X = -5000 }, false},
		{"below page", func(p *Placement) { p.Y = -1 }, false},
		{"past right edge", func(p *Placement) { p.X = 540 }, false},
		{"past top edge", func(p *Placement) { p.Y = 720 }, false},
		{"larger than page", func(p *Placement) { p.X, p.Y, p.Width, p.Height = 0, 0, 30000, 30000 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate(letterPages(2))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPlacement)
			}
		})
	}
}

func TestPlan_GroupsVisibleByPage(t *testing.T) {
	a := valid()
	a.Page = 3
	b := valid()
	b.Page = 1
	hidden := valid()
	hidden.Page = 2
	hidden.Visible = false
	c := valid()
	c.Page = 3
	c.Type = StampCompany

	plans, err := plan([]Placement{a, b, hidden, c}, letterPages(3))
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, 1, plans[0].page)
	assert.Equal(t, 3, plans[1].page)
	require.Len(t, plans[1].placements, 2)
	assert.Equal(t, StampEngineer, plans[1].placements[0].Type)
	assert.Equal(t, StampCompany, plans[1].placements[1].Type)
}

func TestPlan_NoVisiblePlacements(t *testing.T) {
	p := valid()
	p.Visible = false
	_, err := plan([]Placement{p}, letterPages(1))
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func TestPlan_InvalidPlacementRejectsAll(t *testing.T) {
	bad := valid()
	bad.Page = 9
	_, err := plan([]Placement{valid(), bad}, letterPages(1))
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func TestPagePlanBounds(t *testing.T) {
	pp := pagePlan{page: 1, placements: []Placement{
		{X: 100, Y: 50, Width: 20, Height: 30},
		{X: 80, Y: 90, Width: 50, Height: 10},
	}}
	minX, minY, maxX, maxY := pp.bounds()
	assert.Equal(t, 80.0, minX)
	assert.Equal(t, 50.0, minY)
	assert.Equal(t, 130.0, maxX)
	assert.Equal(t, 100.0, maxY)
}

func TestLegacyPlacement(t *testing.T) {
	p := LegacyPlacement(letterPages(4))
	assert.Equal(t, 4, p.Page)
	assert.True(t, p.Visible)
	assert.Equal(t, StampEngineer, p.Type)
	assert.Equal(t, 400.0, p.X)
	assert.Equal(t, 100.0, p.Y)
	assert.NoError(t, p.Validate(letterPages(4)))
}

func TestLegacyPlacement_SmallPage(t *testing.T) {
	pages := []types.Dim{{Width: 612, Height: 792}, {Width: 300, Height: 60}}
	p := LegacyPlacement(pages)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 220.0, p.X)
	assert.Equal(t, 0.0, p.Y)
	assert.Equal(t, 60.0, p.Height)
	assert.NoError(t, p.Validate(pages))
}

func TestPlacementValidate_UsesOwnPage(t *testing.T) {
	pages := []types.Dim{{Width: 612, Height: 792}, {Width: 200, Height: 200}}
	p := valid()
	require.NoError(t, p.Validate(pages))

	p.Page = 2
	assert.ErrorIs(t, p.Validate(pages), ErrInvalidPlacement)
}

func TestPDFRotation(t *testing.T) {
	tests := []struct {
		clockwise float64
		want      float64
	}{
		{0, 0},
		{90, -90},
		{-90, 90},
		{270, 90},
		{180, -180},
		{360, 0},
		{45, -45},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pdfRotation(tt.clockwise), "clockwise %v", tt.clockwise)
	}
}

func TestSignedPath(t *testing.T) {
	e := New(Config{SignedDir: "/data/signed"}, WithLogger(testLogger()))
	entry := &store.SignatureEntry{ID: "abc", OriginalFilePath: "/intake/doc1.pdf"}
	assert.Equal(t, "/data/signed/abc/doc1_signed.pdf", e.SignedPath(entry))
}

func TestImagePath_StaysInStampDir(t *testing.T) {
	e := New(Config{StampDir: "/stamps", EngineerImage: "eng.png", CompanyImage: "co.png"}, WithLogger(testLogger()))

	assert.Equal(t, "/stamps/eng.png", e.imagePath(Placement{Type: StampEngineer}))
	assert.Equal(t, "/stamps/co.png", e.imagePath(Placement{Type: StampCompany}))
	assert.Equal(t, "/stamps/passwd", e.imagePath(Placement{Type: StampEngineer, ImageRef: "../../etc/passwd"}))
}
