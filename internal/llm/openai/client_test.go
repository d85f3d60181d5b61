package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
)

func chatEnvelope(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "gpt-4o-mini",
		MaxRetries: 2,
	}, nil)
	return c, srv
}

var validContent = `{
	"invoice_number": "INV-100",
	"vendor_name": "Acme Corp",
	"issue_date": "03/14/2024",
	"subtotal": "$1,200.00",
	"tax": "$34.56",
	"total": "$1,234.56",
	"line_items": [
		{"description": "Widget", "quantity": "2", "unit_price": "600.00", "line_total": "1200.00"}
	]
}`

func TestExtractInvoiceSuccess(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, chatEnvelope(validContent))
	})

	out, raw, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{
		DocumentID: "doc-1",
		Text:       "Invoice INV-100 ...",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "INV-100", out.InvoiceNumber)
	assert.Equal(t, "Acme Corp", out.VendorName)
	assert.Equal(t, "$1,234.56", out.Total)
	require.Len(t, out.LineItems, 1)
	assert.Equal(t, "Widget", out.LineItems[0].Description)
	assert.NotEmpty(t, raw)
}

func TestExtractInvoiceFencedJSONAccepted(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatEnvelope("```json\n"+validContent+"\n```"))
	})

	out, _, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "INV-100", out.InvoiceNumber)
}

func TestExtractInvoiceRetriesMalformedThenSucceeds(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			fmt.Fprint(w, chatEnvelope("Sorry, I could not find an invoice."))
			return
		}
		fmt.Fprint(w, chatEnvelope(validContent))
	})

	out, _, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "Acme Corp", out.VendorName)
}

func TestExtractInvoiceExhaustsRetryBudget(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, chatEnvelope("not json at all"))
	})

	_, _, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.MalformedResponse, llm.KindOf(err))
	// MaxRetries=2 -> 3 attempts total
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExtractInvoiceServerErrorIsServiceUnavailable(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	})

	_, _, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.ServiceUnavailable, llm.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExtractInvoiceSchemaMismatchIsTerminal(t *testing.T) {
	var calls int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// valid JSON object, but the required vendor_name is absent
		fmt.Fprint(w, chatEnvelope(`{"invoice_number": "INV-100", "issue_date": "2024-03-14", "total": "10.00", "line_items": []}`))
	})

	_, raw, err := c.ExtractInvoice(context.Background(), llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.SchemaMismatch, llm.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "wrong shape must not be re-requested")
	assert.NotEmpty(t, raw, "the offending payload is preserved for diagnostics")
}

func TestExtractInvoiceCancelledContext(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatEnvelope(validContent))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.ExtractInvoice(ctx, llm.ExtractRequest{DocumentID: "doc-1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.ServiceUnavailable, llm.KindOf(err))
}
