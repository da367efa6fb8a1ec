package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CertificateDocument carries the fields printed on a participation certificate.
type CertificateDocument struct {
	Code            string
	ParticipantName string
	EventTitle      string
	EventLocation   string
	EventStartDate  string
	EventEndDate    string
	Hours           int
	IssuedAt        string
	IssuerName      string
	ValidUntil      string
	Notes           string
}

// PDFExporter renders certificate documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderCertificate produces a landscape A4 certificate of participation.
func (e *PDFExporter) RenderCertificate(doc CertificateDocument) ([]byte, error) {
	if doc.Code == "" {
		return nil, fmt.Errorf("certificate code required")
	}
	if doc.ParticipantName == "" {
		return nil, fmt.Errorf("participant name required")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 26)
	pdf.CellFormat(0, 16, "CERTIFICATE OF PARTICIPATION", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 12, doc.ParticipantName, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 13)
	period := doc.EventStartDate
	if doc.EventEndDate != "" && doc.EventEndDate != doc.EventStartDate {
		period = fmt.Sprintf("%s to %s", doc.EventStartDate, doc.EventEndDate)
	}
	body := fmt.Sprintf("attended \"%s\" held at %s from %s, with a workload of %d hours.",
		doc.EventTitle, doc.EventLocation, period, doc.Hours)
	pdf.MultiCell(0, 8, body, "", "C", false)
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Issued on %s", doc.IssuedAt), "", 1, "C", false, 0, "")
	if doc.IssuerName != "" {
		pdf.CellFormat(0, 7, fmt.Sprintf("Issued by %s", doc.IssuerName), "", 1, "C", false, 0, "")
	}
	if doc.ValidUntil != "" {
		pdf.CellFormat(0, 7, fmt.Sprintf("Valid until %s", doc.ValidUntil), "", 1, "C", false, 0, "")
	}
	if doc.Notes != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 6, doc.Notes, "", "C", false)
	}

	pdf.Ln(12)
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Verification code: %s", strings.ToUpper(doc.Code)), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
