// Package normalize coerces the extractor's loosely-typed output into
// canonical values ready for persistence.
//
// Locale assumption: ambiguous numeric dates (xx/yy/zzzz with both parts
// <= 12) are read MONTH-FIRST (US convention). Unambiguous day-first
// inputs are still accepted. This is a deliberate, documented pin — the
// alternative is guessing per document, which fails silently.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

// ErrorKind classifies normalization failures.
type ErrorKind string

const (
	UnparsableDate   ErrorKind = "UNPARSABLE_DATE"
	UnparsableNumber ErrorKind = "UNPARSABLE_NUMBER"
	MissingKey       ErrorKind = "MISSING_KEY"
)

// NormalizationError attributes a coercion failure to one field.
type NormalizationError struct {
	Kind  ErrorKind
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: field %q value %q", e.Kind, e.Field, e.Value)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// KindOf returns the normalization error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return ""
}

// dateLayouts are tried in order. Month-first numeric layouts precede
// day-first so the locale pin decides ambiguous inputs; day-first still
// wins when the month slot would overflow (day > 12).
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02/01/2006",
	"02-01-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02 Jan 2006",
	"2006-01-02T15:04:05Z07:00",
}

// ParseDate coerces common textual date forms to a calendar date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// FormatDate renders a canonical YYYY-MM-DD string.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// currencyRunes are stripped from money values before parsing.
const currencyRunes = "$€£¥₹"

// ParseAmount coerces a currency-formatted string to a float:
// strips symbols, thousands separators and whitespace; a trailing minus
// or a parenthesised value is negative; multiple decimal points reject.
// Empty input coerces to 0 (best-effort, matching absent optionals).
func ParseAmount(s string) (float64, error) {
	v := strings.TrimSpace(s)
	if v == "" || strings.EqualFold(v, "none") || strings.EqualFold(v, "null") {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		neg = true
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if strings.HasSuffix(v, "-") {
		neg = true
		v = strings.TrimSpace(strings.TrimSuffix(v, "-"))
	}
	if strings.HasPrefix(v, "-") {
		neg = !neg
		v = strings.TrimSpace(strings.TrimPrefix(v, "-"))
	}

	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == '\u00a0':
			// thousands separators and inner whitespace
		case strings.ContainsRune(currencyRunes, r):
		default:
			// tolerate a leading ISO code like "USD 1,200.50"
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				continue
			}
			return 0, fmt.Errorf("unexpected character %q in amount %q", r, s)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, fmt.Errorf("no digits in amount %q", s)
	}
	if strings.Count(cleaned, ".") > 1 {
		return 0, fmt.Errorf("multiple decimal points in amount %q", s)
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	if neg {
		f = -f
	}
	return f, nil
}

// FormatAmount renders a canonical two-decimal string.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Normalize turns a RawExtraction into a canonical Invoice and its ordered
// line items. sourceDocumentID attributes the result to its document.
func Normalize(raw llm.RawExtraction, sourceDocumentID string) (entity.Invoice, []entity.LineItem, error) {
	number := strings.TrimSpace(raw.InvoiceNumber)
	if number == "" {
		// the natural key for idempotent storage; never synthesized
		return entity.Invoice{}, nil, &NormalizationError{Kind: MissingKey, Field: "invoice_number"}
	}

	issueDate, err := ParseDate(raw.IssueDate)
	if err != nil {
		return entity.Invoice{}, nil, &NormalizationError{Kind: UnparsableDate, Field: "issue_date", Value: raw.IssueDate, Err: err}
	}

	var dueDate *time.Time
	if strings.TrimSpace(raw.DueDate) != "" {
		d, err := ParseDate(raw.DueDate)
		if err != nil {
			return entity.Invoice{}, nil, &NormalizationError{Kind: UnparsableDate, Field: "due_date", Value: raw.DueDate, Err: err}
		}
		dueDate = &d
	}

	amount := func(field, value string) (float64, error) {
		f, err := ParseAmount(value)
		if err != nil {
			return 0, &NormalizationError{Kind: UnparsableNumber, Field: field, Value: value, Err: err}
		}
		return f, nil
	}

	subtotal, err := amount("subtotal", raw.Subtotal)
	if err != nil {
		return entity.Invoice{}, nil, err
	}
	tax, err := amount("tax", raw.Tax)
	if err != nil {
		return entity.Invoice{}, nil, err
	}
	total, err := amount("total", raw.Total)
	if err != nil {
		return entity.Invoice{}, nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = "USD"
	}

	inv := entity.Invoice{
		InvoiceNumber:    number,
		VendorName:       strings.TrimSpace(raw.VendorName),
		CustomerName:     strings.TrimSpace(raw.CustomerName),
		IssueDate:        issueDate,
		DueDate:          dueDate,
		Subtotal:         subtotal,
		Tax:              tax,
		Total:            total,
		CurrencyCode:     currency,
		SourceDocumentID: sourceDocumentID,
	}

	items := make([]entity.LineItem, 0, len(raw.LineItems))
	for i, rli := range raw.LineItems {
		field := func(name string) string { return fmt.Sprintf("line_items[%d].%s", i, name) }
		qty, err := amount(field("quantity"), rli.Quantity)
		if err != nil {
			return entity.Invoice{}, nil, err
		}
		unitPrice, err := amount(field("unit_price"), rli.UnitPrice)
		if err != nil {
			return entity.Invoice{}, nil, err
		}
		lineTotal, err := amount(field("line_total"), rli.LineTotal)
		if err != nil {
			return entity.Invoice{}, nil, err
		}
		items = append(items, entity.LineItem{
			InvoiceNumber: number,
			LineIndex:     i, // position in the source sequence, never re-sorted
			Description:   strings.TrimSpace(rli.Description),
			Quantity:      qty,
			UnitPrice:     unitPrice,
			LineTotal:     lineTotal,
		})
	}

	return inv, items, nil
}
