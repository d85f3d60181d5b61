package entity

import "time"

// Document is a single source artifact supplied by an ingestion
// collaborator. Immutable once fetched; the pipeline only reads it.
type Document struct {
	ID         string `json:"id"` // stable identifier: source filename or URI
	SourcePath string `json:"source_path,omitempty"`
	Bytes      []byte `json:"-"`
	TypeHint   string `json:"type_hint"` // constants.PDF | constants.IMAGE
}

// RecoveredText is the result of the text-recovery stage. Ephemeral,
// held only for the duration of one pipeline run.
type RecoveredText struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	EngineUsed string `json:"engine_used"` // constants.EnginePrimary | constants.EngineFallback
	CharCount  int    `json:"char_count"`  // non-whitespace runes (the yield)
	Failed     bool   `json:"failed"`      // both engines failed; downstream skips
}

// Invoice represents a persisted invoice header for data transfer between layers.
// invoice_number is the natural key; a re-run with the same number replaces
// the prior row and its line items atomically.
type Invoice struct {
	InvoiceNumber    string     `json:"invoice_number"`
	VendorName       string     `json:"vendor_name"`
	CustomerName     string     `json:"customer_name,omitempty"`
	IssueDate        time.Time  `json:"issue_date"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Subtotal         float64    `json:"subtotal"`
	Tax              float64    `json:"tax"`
	Total            float64    `json:"total"`
	CurrencyCode     string     `json:"currency_code"`
	SourceDocumentID string     `json:"source_document_id"`
	CreatedAt        time.Time  `json:"created_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty"`
}

// LineItem is one ordered line of an invoice. The set of line items for an
// invoice is always replaced together with its header, never partially.
type LineItem struct {
	InvoiceNumber string  `json:"invoice_number"`
	LineIndex     int     `json:"line_index"` // zero-based, order-preserving
	Description   string  `json:"description"`
	Quantity      float64 `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	LineTotal     float64 `json:"line_total"`
}
