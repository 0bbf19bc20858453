package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateFields is everything the renderer knows about a certificate.
type CertificateFields struct {
	RecipientName string
	CourseTitle   string
	Level         string
	IssuedAt      time.Time
	Number        string
}

// Validate checks the fields required on every document.
func (f CertificateFields) Validate() error {
	switch {
	case strings.TrimSpace(f.RecipientName) == "":
		return fmt.Errorf("certificate requires a recipient name")
	case strings.TrimSpace(f.CourseTitle) == "":
		return fmt.Errorf("certificate requires a course title")
	case strings.TrimSpace(f.Number) == "":
		return fmt.Errorf("certificate requires a number")
	case f.IssuedAt.IsZero():
		return fmt.Errorf("certificate requires an issuance date")
	}
	return nil
}

// PDFRenderer lays certificates out as a single landscape A4 page.
type PDFRenderer struct {
	issuer string
}

// NewPDFRenderer constructs a renderer; issuer is printed in the footer.
func NewPDFRenderer(issuer string) *PDFRenderer {
	if issuer == "" {
		issuer = "E-Learning"
	}
	return &PDFRenderer{issuer: issuer}
}

// Render produces the PDF bytes for a certificate.
func (r *PDFRenderer) Render(ctx context.Context, fields CertificateFields) ([]byte, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle("Certificate "+fields.Number, true)
	pdf.SetCreator(r.issuer, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetY(35)
	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 14, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 24)
	pdf.CellFormat(0, 12, tr(fields.RecipientName), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "has successfully completed the course", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, tr(fields.CourseTitle), "", 1, "C", false, 0, "")
	if fields.Level != "" {
		pdf.SetFont("Arial", "", 12)
		pdf.CellFormat(0, 8, "Level "+strings.ToUpper(fields.Level), "", 1, "C", false, 0, "")
	}

	pdf.SetY(165)
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(130, 6, "Issued on "+fields.IssuedAt.UTC().Format("2 January 2006"), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Certificate No. "+fields.Number, "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 6, tr(r.issuer), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
