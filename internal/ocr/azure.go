package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// AzureConfig configures the fallback (remote) engine.
type AzureConfig struct {
	Endpoint string
	APIKey   string

	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // rasterization DPI for scanned PDFs, default 300
	MaxPages int    // 0 = no limit
}

// AzureEngine recovers text through the Azure Computer Vision OCR API.
// Images are contrast-enhanced before upload; PDFs are rasterized to PNG
// pages first since the printed-text endpoint only accepts images.
type AzureEngine struct {
	cfg    AzureConfig
	client *computervision.BaseClient
	runner Runner
}

func NewAzureEngine(cfg AzureConfig) *AzureEngine {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	client := computervision.New(cfg.Endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.APIKey)
	return &AzureEngine{cfg: cfg, client: &client, runner: execRunner{}}
}

func (e *AzureEngine) Name() string { return "azure-vision" }

func (e *AzureEngine) Text(ctx context.Context, doc *entity.Document) (string, error) {
	switch doc.TypeHint {
	case constants.IMAGE:
		return e.imageOCR(ctx, doc.Bytes)
	case constants.PDF:
		return e.pdfOCR(ctx, doc)
	default:
		return "", fmt.Errorf("unsupported document type: %q", doc.TypeHint)
	}
}

func (e *AzureEngine) imageOCR(ctx context.Context, img []byte) (string, error) {
	enhanced, err := enhanceForOCR(img)
	if err != nil {
		// unreadable as an image locally; let the service try the original bytes
		enhanced = img
	}

	result, err := e.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(enhanced)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return "", fmt.Errorf("azure ocr: %w", err)
	}
	return flattenOCRResult(result), nil
}

func (e *AzureEngine) pdfOCR(ctx context.Context, doc *entity.Document) (string, error) {
	path, cleanup, err := materialize(doc)
	if err != nil {
		return "", err
	}
	defer cleanup()

	tmpDir, err := os.MkdirTemp("", "ip-pp-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no images")
	}

	var b strings.Builder
	for _, page := range matches {
		img, err := os.ReadFile(page)
		if err != nil {
			return "", err
		}
		txt, err := e.imageOCR(ctx, img)
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
	}
	return b.String(), nil
}

// enhanceForOCR applies the grayscale/contrast/sharpen chain that improves
// printed-text recognition on degraded scans, re-encoded as PNG.
func enhanceForOCR(raw []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func flattenOCRResult(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var b strings.Builder
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			var words []string
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			if len(words) > 0 {
				b.WriteString(strings.Join(words, " "))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
