// Package stamping renders engineer and company stamps onto PDF documents.
//
// # Overview
//
// Engine.Stamp reads an entry's original document, draws a neutral panel and
// the visible placements on each stamped page, and adds an identity block
// (engineer name, license number, role title, date) below the lowest
// placement on the highest stamped page. Rendering is done with pdfcpu
// stamps, applied one at a time in a fixed order. The finished file has its
// objects sorted by number, so identical inputs give identical output apart
// from document dates and the file ID.
//
// # Modes
//
//   - ModeCommit writes <name>_signed<ext> under the signed directory and
//     returns the path
//   - ModePreview renders the same bytes and returns them without writing
//
// The original document is only ever opened for reading.
//
// # Coordinates
//
// Placements use PDF points with the origin at the bottom-left of the page.
// Rotation is in degrees clockwise about the stamp's center. Pages are
// 1-based. The unrotated box of every placement must lie on its page.
//
// # Missing images
//
// If a placement's image cannot be read, a plain horizontal signature line is
// drawn in its place and a warning is logged.
package stamping
