package llm

import "strings"

// maxPromptChars caps the OCR text bound into the user prompt. Invoice
// headers and line tables sit in the first page; the tail is noise.
const maxPromptChars = 3000

// BuildSystemPrompt composes the fixed instruction template. The contract
// is one JSON object matching the provided schema — no prose, no fences.
func BuildSystemPrompt() string {
	parts := []string{
		"You are an invoice parser. Return EXACTLY ONE JSON object that matches the provided JSON Schema.",
		"Fields: invoice_number, vendor_name, customer_name, issue_date, due_date, subtotal, tax, total, currency.",
		"Line items: an ordered 'line_items' array with description, quantity, unit_price, line_total — keep the order they appear in the document.",
		"Copy values as they appear in the text; do not reformat dates or strip currency symbols.",
		"Never output null. If a field is not present, omit it.",
		"STRICT JSON OUTPUT ONLY. No markdown, no commentary.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and the recovered text
// (first ~3k chars).
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.FilenameHint); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nInvoice text (first ~3k chars):\n")
	text := strings.TrimSpace(req.Text)
	if len(text) > maxPromptChars {
		b.WriteString(text[:maxPromptChars])
		b.WriteString("\n…(truncated)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass this to the model as a structured-output constraint
// and also use it locally to validate the response shape.
//
// invoice_number is intentionally NOT required here: its absence is a
// normalization concern (the natural key is never synthesized), not a
// shape mismatch.
func BuildInvoiceJSONSchema() map[string]any {
	itemProps := map[string]any{
		"description": map[string]any{"type": "string"},
		"quantity":    map[string]any{"type": "string"},
		"unit_price":  map[string]any{"type": "string"},
		"line_total":  map[string]any{"type": "string"},
	}
	props := map[string]any{
		"invoice_number": map[string]any{"type": "string"},
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"customer_name":  map[string]any{"type": "string"},
		"issue_date":     map[string]any{"type": "string", "minLength": 1},
		"due_date":       map[string]any{"type": "string"},
		"subtotal":       map[string]any{"type": "string"},
		"tax":            map[string]any{"type": "string"},
		"total":          map[string]any{"type": "string", "minLength": 1},
		"currency":       map[string]any{"type": "string"},
		"line_items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           itemProps,
			},
		},
	}

	required := []string{"vendor_name", "issue_date", "total", "line_items"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}
