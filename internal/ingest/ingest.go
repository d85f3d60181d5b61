// Package ingest discovers invoice documents on the local filesystem and
// turns them into pipeline inputs. Document identity is the SHA-256 of the
// file contents, so re-running a batch over the same directory reuses the
// same document IDs and duplicate copies collapse to one document.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// DirStats aggregates one directory walk.
type DirStats struct {
	Scanned      int
	Matched      int
	Succeeded    int
	Failed       int
	Deduplicated int
}

// FSIngestor reads from the local filesystem.
type FSIngestor struct {
	AllowedExts map[string]struct{} // lowercased sans '.'; nil -> default set
	SkipHidden  bool
	logger      *slog.Logger
}

func NewFSIngestor(logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{SkipHidden: true, logger: logger}
}

func (i *FSIngestor) allowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	if i.AllowedExts != nil {
		_, ok := i.AllowedExts[ext]
		return ok
	}
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// IngestPath loads one file as a document. The returned document carries the
// file bytes, the content hash as its ID, and a format hint from the
// extension.
func (i *FSIngestor) IngestPath(path string) (*entity.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !i.allowedExt(ext) {
		return nil, fmt.Errorf("unsupported or missing extension %q", ext)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &entity.Document{
		ID:         hex.EncodeToString(sum[:]),
		SourcePath: abs,
		Bytes:      data,
		TypeHint:   constants.MapExtToFormat(ext),
	}, nil
}

// IngestDirectory walks root, skips hidden entries if configured, and loads
// every allowed file. Unreadable files are logged and counted, never fatal.
// Duplicate contents (same hash) are collapsed to the first occurrence.
func (i *FSIngestor) IngestDirectory(root string) ([]*entity.Document, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var docs []*entity.Document
	var stats DirStats
	seen := make(map[string]struct{})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			i.logger.Warn("ingest.walk_error", "path", path, "error", walkErr)
			stats.Failed++
			return nil
		}
		if i.SkipHidden && IsHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !i.allowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		doc, err := i.IngestPath(path)
		if err != nil {
			i.logger.Warn("ingest.read_error", "path", path, "error", err)
			stats.Failed++
			return nil
		}
		if _, dup := seen[doc.ID]; dup {
			i.logger.Debug("ingest.deduplicated", "path", path, "document_id", doc.ID)
			stats.Deduplicated++
			return nil
		}
		seen[doc.ID] = struct{}{}
		docs = append(docs, doc)
		stats.Succeeded++
		return nil
	})
	if err != nil {
		return docs, stats, fmt.Errorf("walk: %w", err)
	}

	i.logger.Info("ingest.complete",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"deduplicated", stats.Deduplicated,
	)
	return docs, stats, nil
}
