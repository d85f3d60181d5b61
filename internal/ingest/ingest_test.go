package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIngestPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "invoice.pdf", []byte("%PDF-1.4 fake"))

	doc, err := NewFSIngestor(nil).IngestPath(path)
	require.NoError(t, err)
	assert.Equal(t, constants.PDF, doc.TypeHint)
	assert.Equal(t, []byte("%PDF-1.4 fake"), doc.Bytes)
	assert.Len(t, doc.ID, 64, "document id is the hex sha-256 of the contents")
	assert.True(t, filepath.IsAbs(doc.SourcePath))
}

func TestIngestPathContentAddressed(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.pdf", []byte("same bytes"))
	b := writeFile(t, dir, "b.pdf", []byte("same bytes"))
	c := writeFile(t, dir, "c.pdf", []byte("different bytes"))

	ing := NewFSIngestor(nil)
	docA, err := ing.IngestPath(a)
	require.NoError(t, err)
	docB, err := ing.IngestPath(b)
	require.NoError(t, err)
	docC, err := ing.IngestPath(c)
	require.NoError(t, err)

	assert.Equal(t, docA.ID, docB.ID)
	assert.NotEqual(t, docA.ID, docC.ID)
}

func TestIngestPathRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", []byte("hello"))

	_, err := NewFSIngestor(nil).IngestPath(path)
	assert.Error(t, err)
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.pdf", []byte("pdf one"))
	writeFile(t, dir, "two.JPG", []byte("jpeg two")) // extension case-insensitive
	writeFile(t, dir, "dupe.pdf", []byte("pdf one")) // same content as one.pdf
	writeFile(t, dir, "skip.txt", []byte("not an invoice"))
	writeFile(t, dir, ".hidden/three.pdf", []byte("hidden pdf"))
	writeFile(t, dir, "nested/four.png", []byte("png four"))

	docs, stats, err := NewFSIngestor(nil).IngestDirectory(dir)
	require.NoError(t, err)

	assert.Len(t, docs, 3)
	assert.Equal(t, 4, stats.Matched)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 1, stats.Deduplicated)
	assert.Equal(t, 0, stats.Failed)

	for _, d := range docs {
		assert.NotEmpty(t, d.Bytes)
		assert.NotEmpty(t, d.TypeHint)
	}
}

func TestIngestDirectoryIncludesHiddenWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden/inv.pdf", []byte("hidden pdf"))

	ing := NewFSIngestor(nil)
	ing.SkipHidden = false
	docs, _, err := ing.IngestDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestDirectoryEmptyRoot(t *testing.T) {
	_, _, err := NewFSIngestor(nil).IngestDirectory("  ")
	assert.Error(t, err)
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden("/tmp/.DS_Store"))
	assert.True(t, IsHidden(".git"))
	assert.False(t, IsHidden("/tmp/invoice.pdf"))
}
