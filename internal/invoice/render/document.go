package render

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
)

const invoiceTextTemplate = `=== INVOICE ===
Number: {{.Number}}
Date: {{.Date}}
Payment: {{.PaymentID}}
Student: {{.StudentID}}
{{- if .ClassID}}
Class: {{.ClassID}}
{{- end}}
Method: {{.Method}}
State: {{.State}}
--- DETAIL ---
{{range .Lines}}- {{.Description}} | Qty: {{.Quantity}} | Unit price: {{.UnitPrice}} | Total: {{.Total}}
{{end}}TOTAL: {{.Total}} {{.Currency}}
`

// DocumentView is the render input for one invoice.
type DocumentView struct {
	Number    string
	Date      string
	PaymentID string
	StudentID string
	ClassID   string
	Method    string
	State     string
	Lines     []LineView
	Total     string
	Currency  string
}

type LineView struct {
	Description string
	Quantity    int
	UnitPrice   string
	Total       string
}

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("invoice").Option("missingkey=error").Parse(invoiceTextTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the text body. Identical inputs always produce identical output.
func (r *Renderer) Render(view DocumentView) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render invoice: %w", err)
	}
	return buf.String(), nil
}

// BuildView maps a settled payment onto the invoice layout. A payment with no
// line items renders as a single line carrying its amount.
func BuildView(p *paymentdomain.Payment, number string, issuedAt time.Time) DocumentView {
	view := DocumentView{
		Number:    number,
		Date:      issuedAt.UTC().Format("2006-01-02"),
		PaymentID: p.ID.String(),
		StudentID: p.StudentID,
		Method:    string(p.Method),
		State:     string(p.State),
		Lines:     BuildLines(p),
		Total:     money(p.Amount),
		Currency:  p.Currency,
	}
	if classID, ok := p.EnrollmentTarget(); ok {
		view.ClassID = classID
	}
	return view
}

func BuildLines(p *paymentdomain.Payment) []LineView {
	if len(p.LineItems) == 0 {
		return []LineView{{
			Description: p.Description,
			Quantity:    1,
			UnitPrice:   money(p.Amount),
			Total:       money(p.Amount),
		}}
	}
	lines := make([]LineView, 0, len(p.LineItems))
	for _, item := range p.LineItems {
		lines = append(lines, LineView{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.UnitPrice),
			Total:       money(item.Total()),
		})
	}
	return lines
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
