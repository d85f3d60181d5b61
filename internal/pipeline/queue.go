package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// Batch fans documents out to a bounded worker pool. Documents are
// independent units; the only shared state is the persistent store, whose
// writes the repository serializes per invoice number.
type Batch struct {
	proc    *Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration
}

type Option func(*Batch)

func WithWorkers(n int) Option {
	return func(b *Batch) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(b *Batch) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func NewBatch(proc *Processor, logger *slog.Logger, opts ...Option) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batch{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run processes every document and returns the batch summary. Cancelling
// ctx stops dispatching new documents; invoices already committed stay
// committed, and undispatched documents are reported as failed with the
// context error.
func (b *Batch) Run(ctx context.Context, docs []*entity.Document) Summary {
	jobs := make(chan int)
	outcomes := make([]Outcome, len(docs))

	var wg sync.WaitGroup
	for w := 1; w <= b.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				doc := docs[i]
				procCtx, cancel := context.WithTimeout(ctx, b.timeout)
				outcomes[i] = b.proc.ProcessDocument(procCtx, doc)
				cancel()
				b.logger.Debug("batch.document_done",
					"worker_id", workerID,
					"document_id", doc.ID,
					"status", string(outcomes[i].Status),
				)
			}
		}(w)
	}

dispatch:
	for i := range docs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			b.logger.Warn("batch.cancelled", "remaining", len(docs)-i)
			for j := i; j < len(docs); j++ {
				outcomes[j] = Outcome{
					DocumentID: docs[j].ID,
					Status:     constants.StatusFailed,
					Stage:      constants.StageFetched,
					Reason:     "CANCELLED",
					Detail:     ctx.Err().Error(),
				}
			}
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	var s Summary
	s.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Status == constants.StatusPersisted {
			s.Persisted++
		} else {
			s.Failed++
		}
	}
	b.logger.Info("batch.complete", "persisted", s.Persisted, "failed", s.Failed)
	return s
}
