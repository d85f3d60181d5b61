package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir     = flag.String("dir", "", "directory to process invoices from (required)")
		db      = flag.String("db", "", "database DSN (overrides DB_URL)")
		out     = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		workers = flag.Int("workers", 0, "concurrent documents (overrides PIPELINE_WORKERS)")
		vendor  = flag.String("vendor", "", "export filter: vendor name substring")
		fromStr = flag.String("from", "", "export filter: from issue date YYYY-MM-DD")
		toStr   = flag.String("to", "", "export filter: to issue date YYYY-MM-DD")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		parentDir := filepath.Dir(*dir)
		*out = filepath.Join(parentDir, "invoices.xlsx")
	}

	var from, to *time.Time
	if *fromStr != "" {
		if parsed, err := time.Parse("2006-01-02", *fromStr); err != nil {
			printError("Error: invalid --from date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			from = &parsed
		}
	}
	if *toStr != "" {
		if parsed, err := time.Parse("2006-01-02", *toStr); err != nil {
			printError("Error: invalid --to date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		} else {
			to = &parsed
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	ctx := context.Background()

	cfg := common.LoadConfig()
	if *db != "" {
		cfg.Database.DSN = *db
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Store first: an unreachable database fails the batch before any
	// OCR or LLM spend.
	store, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.HealthCheck(ctx, cfg.Database.DialTimeout); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	repo := repository.NewInvoiceRepository(store, logger)

	// OCR engines: local Tesseract/Poppler primary, Azure Vision fallback
	// when configured.
	primary := ocr.NewTesseractEngine(ocr.TesseractConfig{
		Pdftotext:     cfg.OCR.Pdftotext,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
	})
	var fallback ocr.Engine
	if cfg.OCR.AzureEndpoint != "" && cfg.OCR.AzureKey != "" {
		fallback = ocr.NewAzureEngine(ocr.AzureConfig{
			Endpoint: cfg.OCR.AzureEndpoint,
			APIKey:   cfg.OCR.AzureKey,
			Pdftoppm: cfg.OCR.Pdftoppm,
			DPI:      cfg.OCR.DPI,
			MaxPages: cfg.OCR.MaxPages,
		})
		logger.Info("fallback OCR engine enabled", "engine", fallback.Name())
	} else {
		logger.Warn("Azure Vision not configured, running primary engine only")
	}
	recoverer := ocr.NewRecoverer(primary, fallback, ocr.RecoverConfig{
		MinYield: cfg.OCR.MinYield,
		Timeout:  cfg.OCR.Timeout,
	}, logger)

	extractor := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}, logger)
	logger.Info("OpenAI client initialized", "model", cfg.LLM.Model)

	ingestor := ingest.NewFSIngestor(logger)
	logger.Info("starting ingestion", "dir", *dir)
	docs, stats, err := ingestor.IngestDirectory(*dir)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		logger.Warn("no matching documents found", "dir", *dir, "scanned", stats.Scanned)
	}

	processor := pipeline.NewProcessor(logger, recoverer, extractor, repo)
	batch := pipeline.NewBatch(processor, logger,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)
	summary := batch.Run(ctx, docs)

	for _, o := range summary.Outcomes {
		if o.Status == constants.StatusFailed {
			logger.Warn("document failed",
				"document_id", o.DocumentID,
				"stage", string(o.Stage),
				"reason", o.Reason,
				"detail", o.Detail,
			)
		}
	}

	logger.Info("exporting to XLSX", "output", *out)
	exportService := export.NewService(repo, logger)
	xlsxBytes, err := exportService.ExportInvoicesXLSX(ctx, *vendor, from, to)
	if err != nil {
		logger.Error("failed to export invoices", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsxBytes, 0644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	logger.Info("batch processing complete",
		"documents", len(docs),
		"persisted", summary.Persisted,
		"failed", summary.Failed,
		"output_file", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Documents found: %d (deduplicated: %d)\n", len(docs), stats.Deduplicated)
	fmt.Printf("- Invoices persisted: %d\n", summary.Persisted)
	fmt.Printf("- Failures: %d\n", summary.Failed)
	fmt.Printf("- Output: %s\n", *out)

	if summary.Failed > 0 && summary.Persisted == 0 && len(docs) > 0 {
		os.Exit(1)
	}
}
