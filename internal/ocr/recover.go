// Package ocr implements the text-recovery stage: a primary local engine
// with a single, yield-triggered escalation to a remote fallback engine.
package ocr

import (
	"context"
	"log/slog"
	"time"
	"unicode"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// Engine is one OCR capability. The recoverer treats primary and fallback
// as an interchangeable pair, not concrete implementations.
type Engine interface {
	Name() string
	Text(ctx context.Context, doc *entity.Document) (string, error)
}

// RecoverConfig holds the fallback-trigger policy.
type RecoverConfig struct {
	// MinYield is the non-whitespace character count below which the
	// fallback engine is consulted. Default 20.
	MinYield int
	// Timeout bounds each engine call. A timeout counts as an engine
	// failure, never a crash. Default 60s.
	Timeout time.Duration
}

// Recoverer turns a document into plain text. Recover never returns a hard
// error: when both engines fail it reports RecoveredText{Failed: true} so
// downstream stages can skip the document.
type Recoverer struct {
	primary  Engine
	fallback Engine // may be nil; primary-only mode
	cfg      RecoverConfig
	logger   *slog.Logger
}

func NewRecoverer(primary, fallback Engine, cfg RecoverConfig, logger *slog.Logger) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinYield <= 0 {
		cfg.MinYield = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Recoverer{primary: primary, fallback: fallback, cfg: cfg, logger: logger}
}

// Yield is the non-whitespace character count of OCR output, used as the
// fallback trigger signal.
func Yield(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Recover runs the primary engine and, when its yield falls below MinYield,
// the fallback exactly once. The higher yield wins; ties keep the primary
// result (cheaper, already computed).
func (r *Recoverer) Recover(ctx context.Context, doc *entity.Document) entity.RecoveredText {
	primText, primErr := r.runEngine(ctx, r.primary, doc)
	primYield := Yield(primText)

	if primErr == nil && primYield >= r.cfg.MinYield {
		r.logger.Debug("ocr.recover.primary_ok", "document_id", doc.ID, "yield", primYield)
		return recovered(doc.ID, primText, constants.EnginePrimary, primYield)
	}

	if r.fallback == nil {
		if primErr != nil {
			r.logger.Error("ocr.recover.failed", "document_id", doc.ID, "engine", r.primary.Name(), "error", primErr)
			return entity.RecoveredText{DocumentID: doc.ID, EngineUsed: constants.EnginePrimary, Failed: true}
		}
		r.logger.Warn("ocr.recover.low_yield_no_fallback", "document_id", doc.ID, "yield", primYield, "min_yield", r.cfg.MinYield)
		return recovered(doc.ID, primText, constants.EnginePrimary, primYield)
	}

	r.logger.Info("ocr.recover.fallback_triggered",
		"document_id", doc.ID,
		"primary_yield", primYield,
		"min_yield", r.cfg.MinYield,
		"primary_error", errString(primErr),
	)

	fbText, fbErr := r.runEngine(ctx, r.fallback, doc)
	if fbErr != nil {
		if primErr != nil {
			r.logger.Error("ocr.recover.failed",
				"document_id", doc.ID,
				"primary_error", primErr,
				"fallback_error", fbErr,
			)
			return entity.RecoveredText{DocumentID: doc.ID, EngineUsed: constants.EngineFallback, Failed: true}
		}
		r.logger.Warn("ocr.recover.fallback_error_keeping_primary", "document_id", doc.ID, "error", fbErr)
		return recovered(doc.ID, primText, constants.EnginePrimary, primYield)
	}

	// strictly greater wins; ties favor the primary engine
	if fbYield := Yield(fbText); fbYield > primYield {
		r.logger.Info("ocr.recover.fallback_won", "document_id", doc.ID, "fallback_yield", fbYield, "primary_yield", primYield)
		return recovered(doc.ID, fbText, constants.EngineFallback, fbYield)
	}
	return recovered(doc.ID, primText, constants.EnginePrimary, primYield)
}

func (r *Recoverer) runEngine(ctx context.Context, eng Engine, doc *entity.Document) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return eng.Text(ctx, doc)
}

func recovered(docID, text, engine string, yield int) entity.RecoveredText {
	return entity.RecoveredText{
		DocumentID: docID,
		Text:       text,
		EngineUsed: engine,
		CharCount:  yield,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
