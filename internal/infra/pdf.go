package infra

// pdf.go: order bon (receipt) generation using go-pdf/fpdf.
// Receipt-sized page with:
//   - Event name header
//   - Order id, Z-number and booking time
//   - Line items (product, quantity, total) with tax rate
//   - Bold total and tax breakdown
//
// Bons are rendered to memory for mail attachments and the download endpoint,
// WriteBon additionally caches them as storagePath/bon_{id}.pdf.

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// BonRenderer renders order bons.
type BonRenderer struct {
	storagePath string
}

func NewBonRenderer(storagePath string) *BonRenderer {
	return &BonRenderer{storagePath: storagePath}
}

// RenderBon renders the bon of order into a PDF document.
func (r *BonRenderer) RenderBon(order *model.Order, eventName, currency string) ([]byte, error) {
	// 74mm × 105mm, close to thermal receipt paper
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: 105 + float64(len(order.LineItems))*5},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentW, 7, tr(eventName), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 5, "Bon", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Order %d  Z %d", order.ID, order.ZNr), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	pdf.CellFormat(contentW, 4, order.BookedAt.Format("02.01.2006  15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Items ────────────────────────────────────────────────────────────────
	col1 := contentW * 0.52
	col2 := contentW * 0.16
	col3 := contentW * 0.32

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, "Product", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Qty", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Total", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, item := range order.LineItems {
		name := item.ProductName
		if len(name) > 22 {
			name = name[:21] + "."
		}
		pdf.CellFormat(col1, 5, tr(name), "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, fmt.Sprintf("x%d", item.Quantity), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, formatMoney(item.TotalPrice(), currency), "", 1, "R", false, 0, "")
	}

	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Totals ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1+col2, 6, "TOTAL:", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 6, formatMoney(order.TotalPrice, currency), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, t := range taxBreakdown(order) {
		pdf.CellFormat(col1+col2, 4, fmt.Sprintf("%s %s%%", tr(t.name), t.rate.Mul(decimal.NewFromInt(100)).StringFixed(0)), "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, formatMoney(t.tax, currency), "", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render bon: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteBon renders the bon and stores it, returning the file path.
func (r *BonRenderer) WriteBon(order *model.Order, eventName, currency string) (string, error) {
	if err := os.MkdirAll(r.storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}
	content, err := r.RenderBon(order, eventName, currency)
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(r.storagePath, fmt.Sprintf("bon_%d.pdf", order.ID))
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}

type taxLine struct {
	name string
	rate decimal.Decimal
	tax  decimal.Decimal
}

func taxBreakdown(order *model.Order) []taxLine {
	byName := map[string]*taxLine{}
	for _, item := range order.LineItems {
		t, ok := byName[item.TaxName]
		if !ok {
			t = &taxLine{name: item.TaxName, rate: item.TaxRate}
			byName[item.TaxName] = t
		}
		t.tax = t.tax.Add(item.TotalTax())
	}
	out := make([]taxLine, 0, len(byName))
	for _, t := range byName {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func formatMoney(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}
