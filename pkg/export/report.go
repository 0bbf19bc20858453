package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Supported report formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// Report is a titled table. Every row must have len(Columns) cells.
type Report struct {
	Title   string
	Columns []string
	Rows    [][]string
}

func (r Report) validate() error {
	if len(r.Columns) == 0 {
		return fmt.Errorf("report requires at least one column")
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("report row %d has %d cells, want %d", i, len(row), len(r.Columns))
		}
	}
	return nil
}

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	if format == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Render encodes the report in the requested format.
func Render(r Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return RenderCSV(r)
	case FormatPDF:
		return RenderPDF(r)
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

// RenderCSV writes the header line followed by one record per row.
func RenderCSV(r Report) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(r.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(r.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF lays the report out as a single bordered table on portrait A4 pages.
func RenderPDF(r Report) ([]byte, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	if r.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, r.Title, "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	colWidth := 190.0 / float64(len(r.Columns))
	header := func() {
		pdf.SetFont("Arial", "B", 9)
		for _, col := range r.Columns {
			pdf.CellFormat(colWidth, 8, col, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range r.Rows {
		if pdf.GetY()+7 > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		for _, cell := range row {
			pdf.CellFormat(colWidth, 7, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render report pdf: %w", err)
	}
	return buf.Bytes(), nil
}
