// ABOUTME: Tests for reordering PDF object bodies into object number order
// ABOUTME: Builds hand-written PDFs with shuffled objects and checks the rewritten xref

package stamping

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampdesk/internal/stamping/stamptest"
)

var onePage = map[int]string{
	1: "<< /Type /Catalog /Pages 2 0 R >>",
	2: "<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
	3: "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents 4 0 R >>",
	4: "<< /Length 18 >>\nstream\n72 72 m 300 72 l S\nendstream",
}

// writtenInOrder lays out onePage with its bodies in the given order and an
// xref table indexed by object number.
func writtenInOrder(order ...int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make(map[int]int)
	for _, nr := range order {
		offsets[nr] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", nr, onePage[nr])
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(onePage)+1)
	buf.WriteString("0000000000 65535 f \n")
	for nr := 1; nr <= len(onePage); nr++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[nr])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(onePage)+1, xref)
	return buf.Bytes()
}

func TestCanonicalOrder_SortsBodies(t *testing.T) {
	want := writtenInOrder(1, 2, 3, 4)

	for _, order := range [][]int{{4, 3, 2, 1}, {3, 1, 4, 2}, {2, 4, 1, 3}} {
		got, err := canonicalOrder(writtenInOrder(order...))
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got), "order %v", order)
	}
}

func TestCanonicalOrder_OutputStillParses(t *testing.T) {
	got, err := canonicalOrder(writtenInOrder(3, 1, 4, 2))
	require.NoError(t, err)

	n, err := api.PageCount(bytes.NewReader(got), newConfiguration())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCanonicalOrder_Idempotent(t *testing.T) {
	src := stamptest.MinimalPDF(3)
	once, err := canonicalOrder(src)
	require.NoError(t, err)
	assert.Equal(t, src, once)

	twice, err := canonicalOrder(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCanonicalOrder_Rejects(t *testing.T) {
	good := writtenInOrder(1, 2, 3, 4)
	tests := map[string][]byte{
		"not a pdf":       []byte("hello"),
		"no xref keyword": bytes.Replace(good, []byte("xref\n0 5"), []byte("XREF\n0 5"), 1),
		"bad startxref":   bytes.Replace(good, []byte("startxref\n"), []byte("startxref\nnope "), 1),
		"offset mismatch": bytes.Replace(good, []byte("1 0 obj"), []byte("9 0 obj"), 1),
		"short entry":     bytes.Replace(good, []byte("65535 f \n"), []byte("f \n"), 1),
		"truncated":       good[:bytes.Index(good, []byte("trailer"))-20],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := canonicalOrder(data)
			assert.Error(t, err)
		})
	}
}
