// Package pipeline sequences Recover → Extract → Normalize → Persist per
// document and reports a per-document outcome. A failure at any stage is
// attributed to that stage and never aborts the batch.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm"
	"github.com/joseph-ayodele/invoice-pipeline/internal/normalize"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

// Recoverer is the text-recovery capability the processor depends on.
type Recoverer interface {
	Recover(ctx context.Context, doc *entity.Document) entity.RecoveredText
}

// Outcome is the terminal disposition of one document.
type Outcome struct {
	DocumentID    string              `json:"document_id"`
	Status        constants.DocStatus `json:"status"`
	Stage         constants.Stage     `json:"stage"`  // last stage completed, or the stage that failed
	Reason        string              `json:"reason"` // error kind for failed documents
	Detail        string              `json:"detail,omitempty"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	EngineUsed    string              `json:"engine_used,omitempty"`
}

// Summary aggregates a batch for operator triage.
type Summary struct {
	Persisted int       `json:"persisted"`
	Failed    int       `json:"failed"`
	Outcomes  []Outcome `json:"outcomes"`
}

// EngineFailure is the recovery-stage reason: both OCR engines failed (or
// produced no usable text).
const EngineFailure = "ENGINE_FAILURE"

// Processor coordinates the per-document state machine
// Fetched → Recovered → Extracted → Normalized → Persisted | Failed.
type Processor struct {
	logger    *slog.Logger
	recoverer Recoverer
	extractor llm.Extractor
	repo      repository.InvoiceRepository
}

func NewProcessor(logger *slog.Logger, recoverer Recoverer, extractor llm.Extractor, repo repository.InvoiceRepository) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger, recoverer: recoverer, extractor: extractor, repo: repo}
}

// ProcessDocument runs one document through all stages. It never returns an
// error: everything a stage can fail with is folded into the Outcome. No
// stage is retried here — the extractor's internal JSON-parse retry is the
// only retry in the pipeline.
func (p *Processor) ProcessDocument(ctx context.Context, doc *entity.Document) Outcome {
	// Stage 1: recover text
	rec := p.recoverer.Recover(ctx, doc)
	if rec.Failed || rec.CharCount == 0 {
		p.logger.Warn("pipeline.recover.failed", "document_id", doc.ID)
		return Outcome{
			DocumentID: doc.ID,
			Status:     constants.StatusFailed,
			Stage:      constants.StageRecovered,
			Reason:     EngineFailure,
			EngineUsed: rec.EngineUsed,
		}
	}
	p.logger.Debug("pipeline.recover.ok",
		"document_id", doc.ID, "engine", rec.EngineUsed, "yield", rec.CharCount)

	// Stage 2: structured extraction
	raw, _, err := p.extractor.ExtractInvoice(ctx, llm.ExtractRequest{
		DocumentID:   doc.ID,
		Text:         rec.Text,
		FilenameHint: filepath.Base(doc.SourcePath),
	})
	if err != nil {
		kind := llm.KindOf(err)
		p.logger.Warn("pipeline.extract.failed", "document_id", doc.ID, "kind", string(kind), "error", err)
		return Outcome{
			DocumentID: doc.ID,
			Status:     constants.StatusFailed,
			Stage:      constants.StageExtracted,
			Reason:     reason(string(kind)),
			Detail:     err.Error(),
			EngineUsed: rec.EngineUsed,
		}
	}

	// Stage 3: normalization
	inv, items, err := normalize.Normalize(raw, doc.ID)
	if err != nil {
		kind := normalize.KindOf(err)
		p.logger.Warn("pipeline.normalize.failed", "document_id", doc.ID, "kind", string(kind), "error", err)
		return Outcome{
			DocumentID: doc.ID,
			Status:     constants.StatusFailed,
			Stage:      constants.StageNormalized,
			Reason:     reason(string(kind)),
			Detail:     err.Error(),
			EngineUsed: rec.EngineUsed,
		}
	}

	// Stage 4: idempotent persistence
	if err := p.repo.Upsert(ctx, inv, items); err != nil {
		kind := repository.KindOf(err)
		p.logger.Error("pipeline.persist.failed",
			"document_id", doc.ID, "invoice_number", inv.InvoiceNumber,
			"kind", string(kind), "error", err)
		return Outcome{
			DocumentID:    doc.ID,
			Status:        constants.StatusFailed,
			Stage:         constants.StagePersisted,
			Reason:        reason(string(kind)),
			Detail:        err.Error(),
			InvoiceNumber: inv.InvoiceNumber,
			EngineUsed:    rec.EngineUsed,
		}
	}

	p.logger.Info("pipeline.persisted",
		"document_id", doc.ID,
		"invoice_number", inv.InvoiceNumber,
		"line_items", len(items),
		"engine", rec.EngineUsed,
	)
	return Outcome{
		DocumentID:    doc.ID,
		Status:        constants.StatusPersisted,
		Stage:         constants.StagePersisted,
		InvoiceNumber: inv.InvoiceNumber,
		EngineUsed:    rec.EngineUsed,
	}
}

func reason(kind string) string {
	if kind == "" {
		return "UNKNOWN"
	}
	return kind
}
