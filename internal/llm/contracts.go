package llm

import (
	"context"
	"errors"
	"fmt"
)

// RawExtraction is the model's structured response before typing and
// cleanup. All leaf values arrive as strings, exactly as received;
// coercion is the normalizer's job.
type RawExtraction struct {
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	VendorName    string        `json:"vendor_name"`
	CustomerName  string        `json:"customer_name,omitempty"`
	IssueDate     string        `json:"issue_date"`
	DueDate       string        `json:"due_date,omitempty"`
	Subtotal      string        `json:"subtotal,omitempty"`
	Tax           string        `json:"tax,omitempty"`
	Total         string        `json:"total"`
	Currency      string        `json:"currency,omitempty"`
	LineItems     []RawLineItem `json:"line_items"`
}

// RawLineItem is one unnormalized invoice line, order preserved from the
// model's response.
type RawLineItem struct {
	Description string `json:"description,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	UnitPrice   string `json:"unit_price,omitempty"`
	LineTotal   string `json:"line_total,omitempty"`
}

type ExtractRequest struct {
	DocumentID   string
	Text         string // recovered OCR text
	FilenameHint string
}

// Extractor is the interface the pipeline depends on.
type Extractor interface {
	ExtractInvoice(ctx context.Context, req ExtractRequest) (RawExtraction, []byte /*rawJSON*/, error)
}

// ErrorKind classifies terminal extraction failures.
type ErrorKind string

const (
	MalformedResponse  ErrorKind = "MALFORMED_RESPONSE"  // response never parsed as JSON
	ServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE" // transport/service failure after retries
	SchemaMismatch     ErrorKind = "SCHEMA_MISMATCH"     // valid JSON, wrong shape; never retried
)

// ExtractionError attributes a failure to one of the contract's kinds.
type ExtractionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extraction %s", e.Kind)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// KindOf returns the extraction error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
