package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

type fakeRecoverer struct {
	text string
	fail bool
}

func (f *fakeRecoverer) Recover(_ context.Context, doc *entity.Document) entity.RecoveredText {
	if f.fail {
		return entity.RecoveredText{DocumentID: doc.ID, EngineUsed: constants.EnginePrimary, Failed: true}
	}
	text := f.text
	if text == "" {
		text = "Invoice INV-100 Acme Corp 03/14/2024 total $1,234.56"
	}
	n := 0
	for _, r := range text {
		if r != ' ' {
			n++
		}
	}
	return entity.RecoveredText{DocumentID: doc.ID, Text: text, EngineUsed: constants.EnginePrimary, CharCount: n}
}

type fakeExtractor struct {
	out llm.RawExtraction
	err error
}

func (f *fakeExtractor) ExtractInvoice(_ context.Context, _ llm.ExtractRequest) (llm.RawExtraction, []byte, error) {
	return f.out, nil, f.err
}

type fakeRepo struct {
	mu       sync.Mutex
	upserted []entity.Invoice
	err      error
}

func (f *fakeRepo) Upsert(_ context.Context, inv entity.Invoice, _ []entity.LineItem) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, inv)
	return nil
}

func (f *fakeRepo) List(_ context.Context, _ string, _, _ *time.Time) ([]*entity.Invoice, error) {
	return nil, nil
}

func (f *fakeRepo) LineItems(_ context.Context, _ string) ([]*entity.LineItem, error) {
	return nil, nil
}

var _ repository.InvoiceRepository = (*fakeRepo)(nil)

func goodExtraction() llm.RawExtraction {
	return llm.RawExtraction{
		InvoiceNumber: "INV-100",
		VendorName:    "Acme Corp",
		IssueDate:     "03/14/2024",
		Total:         "$1,234.56",
		LineItems: []llm.RawLineItem{
			{Description: "Widget", Quantity: "2", UnitPrice: "600.00", LineTotal: "1200.00"},
		},
	}
}

func testDoc(id string) *entity.Document {
	return &entity.Document{ID: id, SourcePath: "/tmp/" + id + ".pdf", TypeHint: constants.PDF}
}

func TestProcessDocumentPersisted(t *testing.T) {
	repo := &fakeRepo{}
	p := NewProcessor(nil, &fakeRecoverer{}, &fakeExtractor{out: goodExtraction()}, repo)

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusPersisted, out.Status)
	assert.Equal(t, constants.StagePersisted, out.Stage)
	assert.Equal(t, "INV-100", out.InvoiceNumber)
	assert.Equal(t, constants.EnginePrimary, out.EngineUsed)
	require.Len(t, repo.upserted, 1)
	assert.Equal(t, "Acme Corp", repo.upserted[0].VendorName)
}

func TestProcessDocumentEngineFailure(t *testing.T) {
	p := NewProcessor(nil, &fakeRecoverer{fail: true}, &fakeExtractor{out: goodExtraction()}, &fakeRepo{})

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, constants.StageRecovered, out.Stage)
	assert.Equal(t, EngineFailure, out.Reason)
}

func TestProcessDocumentExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{err: &llm.ExtractionError{Kind: llm.MalformedResponse, Err: errors.New("not json")}}
	p := NewProcessor(nil, &fakeRecoverer{}, ext, &fakeRepo{})

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, constants.StageExtracted, out.Stage)
	assert.Equal(t, string(llm.MalformedResponse), out.Reason)
}

func TestProcessDocumentNormalizationFailure(t *testing.T) {
	bad := goodExtraction()
	bad.IssueDate = "whenever"
	p := NewProcessor(nil, &fakeRecoverer{}, &fakeExtractor{out: bad}, &fakeRepo{})

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, constants.StageNormalized, out.Stage)
	assert.Equal(t, "UNPARSABLE_DATE", out.Reason)
	assert.NotEmpty(t, out.Detail)
}

func TestProcessDocumentMissingKey(t *testing.T) {
	bad := goodExtraction()
	bad.InvoiceNumber = ""
	p := NewProcessor(nil, &fakeRecoverer{}, &fakeExtractor{out: bad}, &fakeRepo{})

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, constants.StageNormalized, out.Stage)
	assert.Equal(t, "MISSING_KEY", out.Reason)
}

func TestProcessDocumentPersistenceFailure(t *testing.T) {
	repo := &fakeRepo{err: &repository.PersistenceError{Kind: repository.IOFailure, Err: errors.New("disk full")}}
	p := NewProcessor(nil, &fakeRecoverer{}, &fakeExtractor{out: goodExtraction()}, repo)

	out := p.ProcessDocument(context.Background(), testDoc("doc-1"))

	assert.Equal(t, constants.StatusFailed, out.Status)
	assert.Equal(t, constants.StagePersisted, out.Stage)
	assert.Equal(t, "IO_FAILURE", out.Reason)
	assert.Equal(t, "INV-100", out.InvoiceNumber)
}

func TestBatchRunIsolatesFailures(t *testing.T) {
	// one extractor per document id: doc-2 fails, the rest persist
	ext := &perDocExtractor{
		errs: map[string]error{
			"doc-2": &llm.ExtractionError{Kind: llm.MalformedResponse, Err: errors.New("not json")},
		},
	}
	repo := &fakeRepo{}
	p := NewProcessor(nil, &fakeRecoverer{}, ext, repo)
	b := NewBatch(p, nil, WithWorkers(3))

	docs := []*entity.Document{testDoc("doc-1"), testDoc("doc-2"), testDoc("doc-3")}
	summary := b.Run(context.Background(), docs)

	assert.Equal(t, 2, summary.Persisted)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Outcomes, 3)

	// outcomes keep input order regardless of worker scheduling
	assert.Equal(t, "doc-1", summary.Outcomes[0].DocumentID)
	assert.Equal(t, "doc-2", summary.Outcomes[1].DocumentID)
	assert.Equal(t, "doc-3", summary.Outcomes[2].DocumentID)
	assert.Equal(t, constants.StatusFailed, summary.Outcomes[1].Status)
	assert.Equal(t, constants.StageExtracted, summary.Outcomes[1].Stage)
}

type perDocExtractor struct {
	errs map[string]error
}

func (f *perDocExtractor) ExtractInvoice(_ context.Context, req llm.ExtractRequest) (llm.RawExtraction, []byte, error) {
	if err := f.errs[req.DocumentID]; err != nil {
		return llm.RawExtraction{}, nil, err
	}
	out := goodExtraction()
	out.InvoiceNumber = "INV-" + req.DocumentID
	return out, nil, nil
}

func TestBatchRunCancelledContext(t *testing.T) {
	p := NewProcessor(nil, &fakeRecoverer{}, &fakeExtractor{out: goodExtraction()}, &fakeRepo{})
	b := NewBatch(p, nil, WithWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := []*entity.Document{testDoc("doc-1"), testDoc("doc-2")}
	summary := b.Run(ctx, docs)

	assert.Len(t, summary.Outcomes, 2)
	assert.Equal(t, 2, summary.Failed+summary.Persisted)
}
