package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is a label/value pair printed above a sheet's table.
type Field struct {
	Label string
	Value string
}

// Sheet is a single-record document: a header block followed by a table.
type Sheet struct {
	Title  string
	Fields []Field
	Table  Dataset
	Footer string
}

// PDFExporter renders datasets and sheets into A4 PDFs.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := newDocument("L")
	writeTitle(pdf, title)
	writeTable(pdf, data, 277.0)
	return output(pdf)
}

// RenderSheet creates a portrait PDF for one record.
func (e *PDFExporter) RenderSheet(sheet Sheet) ([]byte, error) {
	if len(sheet.Table.Headers) == 0 {
		return nil, fmt.Errorf("sheet table requires at least one header")
	}
	pdf := newDocument("P")
	writeTitle(pdf, sheet.Title)

	for _, field := range sheet.Fields {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 6, field.Label, "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 6, field.Value, "", "", false)
	}
	if len(sheet.Fields) > 0 {
		pdf.Ln(4)
	}

	writeTable(pdf, sheet.Table, 190.0)

	if sheet.Footer != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 5, sheet.Footer, "", 1, "R", false, 0, "")
	}
	return output(pdf)
}

func newDocument(orientation string) *gofpdf.Fpdf {
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	return pdf
}

func writeTitle(pdf *gofpdf.Fpdf, title string) {
	if title == "" {
		return
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.Ln(5)
}

func writeTable(pdf *gofpdf.Fpdf, data Dataset, width float64) {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "B", 10)
	colWidth := width / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(truncate(row[header], colWidth)), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

// truncate keeps cell text roughly inside its column at 9pt.
func truncate(value string, colWidth float64) string {
	limit := int(colWidth) / 2
	runes := []rune(value)
	if limit <= 3 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-3]) + "..."
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
