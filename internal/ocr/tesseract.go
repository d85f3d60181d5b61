package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// TesseractConfig configures the primary (local, exec-based) engine.
type TesseractConfig struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
}

// TesseractEngine recovers text with local Poppler/Tesseract binaries:
// pdftotext for PDF text layers, tesseract for scanned images.
type TesseractEngine struct {
	cfg    TesseractConfig
	runner Runner
}

func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	return &TesseractEngine{cfg: cfg, runner: execRunner{}}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Text(ctx context.Context, doc *entity.Document) (string, error) {
	path, cleanup, err := materialize(doc)
	if err != nil {
		return "", err
	}
	defer cleanup()

	switch doc.TypeHint {
	case constants.PDF:
		return e.pdfToText(ctx, path)
	case constants.IMAGE:
		return e.imageOCR(ctx, path)
	default:
		return "", fmt.Errorf("unsupported document type: %q", doc.TypeHint)
	}
}

func (e *TesseractEngine) pdfToText(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

func (e *TesseractEngine) imageOCR(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// materialize returns an on-disk path for the document, writing its bytes
// to a temp file when the source path is not directly readable.
func materialize(doc *entity.Document) (string, func(), error) {
	if doc.SourcePath != "" {
		if _, err := os.Stat(doc.SourcePath); err == nil {
			return doc.SourcePath, func() {}, nil
		}
	}
	if len(doc.Bytes) == 0 {
		return "", func() {}, fmt.Errorf("document %s has no readable content", doc.ID)
	}

	ext := "bin"
	if doc.TypeHint == constants.PDF {
		ext = "pdf"
	} else if doc.TypeHint == constants.IMAGE {
		ext = "png"
	}
	tmpDir, err := os.MkdirTemp("", "ip-doc-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	path := filepath.Join(tmpDir, "doc."+ext)
	if err := os.WriteFile(path, doc.Bytes, 0o600); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return path, cleanup, nil
}
