package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripCodeFences removes a markdown fence wrapper from model output.
// Some models wrap "STRICT JSON" in ```json blocks anyway.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "json")
	return strings.TrimSpace(s)
}

// SanitizeExtraction normalizes a raw model response so the strict schema
// can validate it:
//   - renames known synonyms (invoice_date -> issue_date, amount -> line_total)
//   - coerces numeric leaves to strings (money/quantity fields)
//   - drops null/empty optionals and unknown keys
//
// Returns the cleaned JSON, the list of adjustments, and a decode error
// when the input is not a JSON object at all.
func SanitizeExtraction(raw []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	rename := func(obj map[string]any, from, to string) {
		if v, ok := obj[from]; ok {
			if _, exists := obj[to]; !exists {
				obj[to] = v
			}
			delete(obj, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to our schema
	rename(m, "invoice_date", "issue_date")
	rename(m, "vendor", "vendor_name")
	rename(m, "customer", "customer_name")
	rename(m, "currency_code", "currency")
	rename(m, "items", "line_items")

	// 2) coerce scalar leaves; drop null / "" optionals
	scalarKeys := []string{
		"invoice_number", "vendor_name", "customer_name", "issue_date",
		"due_date", "subtotal", "tax", "total", "currency",
	}
	for _, k := range scalarKeys {
		coerceString(m, k, &dropped)
	}

	// 3) line items: keep order, sanitize each entry
	if v, ok := m["line_items"]; ok {
		items, _ := v.([]any)
		clean := make([]any, 0, len(items))
		for _, it := range items {
			obj, ok := it.(map[string]any)
			if !ok {
				dropped = append(dropped, "line_items(entry)")
				continue
			}
			rename(obj, "amount", "line_total")
			rename(obj, "qty", "quantity")
			rename(obj, "price", "unit_price")
			for _, k := range []string{"description", "quantity", "unit_price", "line_total"} {
				coerceString(obj, k, &dropped)
			}
			for k := range obj {
				switch k {
				case "description", "quantity", "unit_price", "line_total":
				default:
					delete(obj, k)
					dropped = append(dropped, "line_items."+k+"(unknown)")
				}
			}
			clean = append(clean, obj)
		}
		m["line_items"] = clean
	}

	// 4) remove unknown top-level keys (strict additionalProperties friendliness)
	allowed := map[string]struct{}{
		"invoice_number": {}, "vendor_name": {}, "customer_name": {},
		"issue_date": {}, "due_date": {}, "subtotal": {}, "tax": {},
		"total": {}, "currency": {}, "line_items": {},
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, dropped, nil
}

// coerceString turns numeric leaves into strings and removes null/empty
// values so optional fields simply go missing instead of failing the schema.
func coerceString(obj map[string]any, key string, dropped *[]string) {
	v, ok := obj[key]
	if !ok {
		return
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			delete(obj, key)
			*dropped = append(*dropped, key+"(empty)")
		} else {
			obj[key] = s
		}
	case float64:
		if t == float64(int64(t)) {
			obj[key] = fmt.Sprintf("%d", int64(t))
		} else {
			obj[key] = fmt.Sprintf("%g", t)
		}
		*dropped = append(*dropped, key+"(number)")
	case bool:
		delete(obj, key)
		*dropped = append(*dropped, key+"(bool)")
	case nil:
		delete(obj, key)
		*dropped = append(*dropped, key+"(null)")
	default:
		delete(obj, key)
		*dropped = append(*dropped, key+"(type)")
	}
}
