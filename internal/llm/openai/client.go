package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

// ExtractInvoice implements llm.Extractor using text-only chat/completions.
// A response that never parses as JSON is re-requested with the SAME input
// up to MaxRetries times (no backoff — failures here are model-determinism
// related, not load-related). Transport failures share the retry budget.
// A response that parses but has the wrong shape is terminal on first
// sight: downstream stages must never receive an unknown shape.
func (c *Client) ExtractInvoice(ctx context.Context, req llm.ExtractRequest) (llm.RawExtraction, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"document_id", req.DocumentID,
		"text_len", len(req.Text),
	)

	schema := llm.BuildInvoiceJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	var (
		lastKind llm.ErrorKind
		lastErr  error
		lastRaw  []byte
	)
	attempts := c.cfg.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.RawExtraction{}, lastRaw, &llm.ExtractionError{Kind: llm.ServiceUnavailable, Err: err}
		}

		raw, err := c.post(ctx, endpoint, body)
		if err != nil {
			lastKind, lastErr, lastRaw = llm.ServiceUnavailable, err, raw
			c.log.Warn("llm.extract.http_error", "req_id", rid, "attempt", attempt, "error", err)
			continue
		}

		content, err := chatContent(raw)
		if err != nil {
			lastKind, lastErr, lastRaw = llm.MalformedResponse, err, raw
			c.log.Warn("llm.extract.envelope_error", "req_id", rid, "attempt", attempt, "error", err)
			continue
		}
		lastRaw = []byte(content)

		sanitized, dropped, err := llm.SanitizeExtraction([]byte(llm.StripCodeFences(content)))
		if err != nil {
			lastKind, lastErr = llm.MalformedResponse, err
			c.log.Warn("llm.extract.parse_error", "req_id", rid, "attempt", attempt, "error", err)
			continue
		}
		if len(dropped) > 0 {
			c.log.Debug("llm.extract.sanitized", "req_id", rid, "adjustments", dropped)
		}

		if err := llm.ValidateJSONAgainstSchema(schema, sanitized); err != nil {
			c.log.Error("llm.extract.schema_mismatch",
				"req_id", rid, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return llm.RawExtraction{}, sanitized, &llm.ExtractionError{Kind: llm.SchemaMismatch, Err: err}
		}

		var out llm.RawExtraction
		if err := json.Unmarshal(sanitized, &out); err != nil {
			// validated JSON that still fails to bind is a shape problem
			return llm.RawExtraction{}, sanitized, &llm.ExtractionError{Kind: llm.SchemaMismatch, Err: err}
		}

		c.log.Info("llm.extract.ok",
			"req_id", rid,
			"vendor", out.VendorName,
			"invoice_number", out.InvoiceNumber,
			"line_items", len(out.LineItems),
			"attempts", attempt,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return out, sanitized, nil
	}

	c.log.Error("llm.extract.exhausted",
		"req_id", rid,
		"kind", string(lastKind),
		"attempts", attempts,
		"error", lastErr,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.RawExtraction{}, lastRaw, &llm.ExtractionError{Kind: lastKind, Err: lastErr}
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if cerr := body.Close(); cerr != nil {
			c.log.Warn("openai response body close error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, fmt.Errorf("openai status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// chatContent unwraps the chat/completions envelope to the message text.
func chatContent(raw []byte) (string, error) {
	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
