// ABOUTME: Canonical object ordering for PDFs written with a classic xref table
// ABOUTME: Reorders object bodies by number so identical renders are byte-identical

package stamping

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var errNoClassicXRef = errors.New("no classic xref table")

type xrefEntry struct {
	nr     int
	offset int
	field  int // file position of the entry's 10-digit offset
}

// canonicalOrder moves every in-use object body into ascending object number
// order and patches the xref offsets in place. pdfcpu emits objects while
// walking dictionaries, so its byte order follows map iteration.
func canonicalOrder(pdf []byte) ([]byte, error) {
	sx := bytes.LastIndex(pdf, []byte("startxref"))
	if sx < 0 {
		return nil, errNoClassicXRef
	}
	tail := bytes.Fields(pdf[sx+len("startxref"):])
	if len(tail) == 0 {
		return nil, errNoClassicXRef
	}
	xref, err := strconv.Atoi(string(tail[0]))
	if err != nil || xref <= 0 || xref >= sx || !bytes.HasPrefix(pdf[xref:], []byte("xref")) {
		return nil, errNoClassicXRef
	}

	entries, err := parseXRef(pdf, xref)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return pdf, nil
	}

	byOffset := append([]xrefEntry(nil), entries...)
	sort.Slice(byOffset, func(i, j int) bool { return byOffset[i].offset < byOffset[j].offset })

	bodies := make(map[int][]byte, len(byOffset))
	for i, e := range byOffset {
		end := xref
		if i+1 < len(byOffset) {
			end = byOffset[i+1].offset
		}
		if e.offset >= end {
			return nil, fmt.Errorf("object %d: offset %d overlaps the next object", e.nr, e.offset)
		}
		body := pdf[e.offset:end]
		if !bytes.HasPrefix(body, []byte(strconv.Itoa(e.nr)+" ")) {
			return nil, fmt.Errorf("object %d not found at offset %d", e.nr, e.offset)
		}
		bodies[e.nr] = body
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].nr < entries[j].nr })

	out := make([]byte, 0, len(pdf))
	out = append(out, pdf[:byOffset[0].offset]...)
	offsets := make(map[int]int, len(entries))
	for _, e := range entries {
		offsets[e.nr] = len(out)
		out = append(out, bodies[e.nr]...)
	}
	if len(out) != xref {
		return nil, fmt.Errorf("reordered objects end at %d, xref at %d", len(out), xref)
	}
	out = append(out, pdf[xref:]...)

	for _, e := range entries {
		copy(out[e.field:e.field+10], fmt.Sprintf("%010d", offsets[e.nr]))
	}
	return out, nil
}

// parseXRef reads the subsections of the xref table at pos up to the
// trailer, returning the in-use entries.
func parseXRef(pdf []byte, pos int) ([]xrefEntry, error) {
	pos += len("xref")
	var entries []xrefEntry
	for {
		line, _, next := nextLine(pdf, pos)
		switch {
		case line == nil:
			return nil, errNoClassicXRef
		case bytes.HasPrefix(line, []byte("trailer")):
			return entries, nil
		}
		pos = next

		hdr := bytes.Fields(line)
		if len(hdr) != 2 {
			return nil, fmt.Errorf("malformed xref subsection %q", line)
		}
		first, err1 := strconv.Atoi(string(hdr[0]))
		count, err2 := strconv.Atoi(string(hdr[1]))
		if err1 != nil || err2 != nil || first < 0 || count < 0 {
			return nil, fmt.Errorf("malformed xref subsection %q", line)
		}

		for i := 0; i < count; i++ {
			line, start, next := nextLine(pdf, pos)
			f := bytes.Fields(line)
			if len(f) != 3 || len(f[0]) != 10 || !bytes.HasPrefix(line, f[0]) {
				return nil, fmt.Errorf("malformed xref entry %q", line)
			}
			pos = next
			if string(f[2]) != "n" {
				continue
			}
			off, err := strconv.Atoi(string(f[0]))
			if err != nil {
				return nil, fmt.Errorf("malformed xref entry %q", line)
			}
			if off == 0 {
				continue
			}
			entries = append(entries, xrefEntry{nr: first + i, offset: off, field: start})
		}
	}
}

// nextLine returns the next non-empty line at or after pos, its start
// position and the position just past it.
func nextLine(b []byte, pos int) ([]byte, int, int) {
	for pos < len(b) && (b[pos] == '\r' || b[pos] == '\n') {
		pos++
	}
	if pos >= len(b) {
		return nil, pos, pos
	}
	end := pos
	for end < len(b) && b[end] != '\r' && b[end] != '\n' {
		end++
	}
	return b[pos:end], pos, end
}
