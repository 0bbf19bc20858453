package render

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFRendererRender(t *testing.T) {
	renderer := NewPDFRenderer("Academy")
	doc, err := renderer.Render(context.Background(), CertificateFields{
		RecipientName: "Ana Lima",
		CourseTitle:   "Distributed Systems",
		Level:         "GAMMA",
		IssuedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Number:        "CERT-20260301-0A1B2C3D4E",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
}

func TestPDFRendererRejectsIncompleteFields(t *testing.T) {
	renderer := NewPDFRenderer("")
	_, err := renderer.Render(context.Background(), CertificateFields{CourseTitle: "Go", Number: "N1", IssuedAt: time.Now()})
	require.Error(t, err)
}

func TestPDFRendererHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPDFRenderer("").Render(ctx, CertificateFields{RecipientName: "A", CourseTitle: "B", Number: "N", IssuedAt: time.Now()})
	require.ErrorIs(t, err, context.Canceled)
}
