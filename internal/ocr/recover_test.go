package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

type stubEngine struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Text(_ context.Context, _ *entity.Document) (string, error) {
	s.calls++
	return s.text, s.err
}

func doc() *entity.Document {
	return &entity.Document{ID: "doc-1", SourcePath: "/tmp/inv.pdf", TypeHint: constants.PDF}
}

func TestYield(t *testing.T) {
	assert.Equal(t, 0, Yield(""))
	assert.Equal(t, 0, Yield(" \t\n\r "))
	assert.Equal(t, 5, Yield("ab c\nd e"))
	assert.Equal(t, 2, Yield("é ü"))
}

func TestRecoverPrimaryAboveThreshold(t *testing.T) {
	primary := &stubEngine{name: "primary", text: "Invoice INV-100 total $42.00"}
	fallback := &stubEngine{name: "fallback", text: "much longer text that would easily win on yield alone"}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EnginePrimary, rec.EngineUsed)
	assert.Equal(t, primary.text, rec.Text)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when primary yield meets the threshold")
}

func TestRecoverFallbackOnLowYield(t *testing.T) {
	primary := &stubEngine{name: "primary", text: "x"}
	fallback := &stubEngine{name: "fallback", text: "Invoice INV-100\nAcme Corp\nTotal: $1,234.56"}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EngineFallback, rec.EngineUsed)
	assert.Equal(t, fallback.text, rec.Text)
	assert.Equal(t, Yield(fallback.text), rec.CharCount)
	assert.Equal(t, 1, fallback.calls)
}

func TestRecoverTieKeepsPrimary(t *testing.T) {
	// equal yields below the threshold: primary result is kept
	primary := &stubEngine{name: "primary", text: "abcde"}
	fallback := &stubEngine{name: "fallback", text: "vwxyz"}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EnginePrimary, rec.EngineUsed)
	assert.Equal(t, "abcde", rec.Text)
}

func TestRecoverFallbackWorseKeepsPrimary(t *testing.T) {
	primary := &stubEngine{name: "primary", text: "short text"}
	fallback := &stubEngine{name: "fallback", text: "x"}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EnginePrimary, rec.EngineUsed)
	assert.Equal(t, "short text", rec.Text)
}

func TestRecoverPrimaryErrorFallbackWins(t *testing.T) {
	primary := &stubEngine{name: "primary", err: errors.New("tesseract exited 1")}
	fallback := &stubEngine{name: "fallback", text: "recovered by the remote engine"}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EngineFallback, rec.EngineUsed)
}

func TestRecoverBothFail(t *testing.T) {
	primary := &stubEngine{name: "primary", err: errors.New("boom")}
	fallback := &stubEngine{name: "fallback", err: errors.New("remote 500")}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	assert.True(t, rec.Failed)
	assert.Empty(t, rec.Text)
	assert.Equal(t, "doc-1", rec.DocumentID)
}

func TestRecoverFallbackErrorKeepsLowYieldPrimary(t *testing.T) {
	primary := &stubEngine{name: "primary", text: "tiny"}
	fallback := &stubEngine{name: "fallback", err: errors.New("quota exceeded")}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	rec := r.Recover(context.Background(), doc())

	require.False(t, rec.Failed)
	assert.Equal(t, constants.EnginePrimary, rec.EngineUsed)
	assert.Equal(t, "tiny", rec.Text)
}

func TestRecoverNoFallbackConfigured(t *testing.T) {
	t.Run("low yield keeps primary", func(t *testing.T) {
		primary := &stubEngine{name: "primary", text: "tiny"}
		r := NewRecoverer(primary, nil, RecoverConfig{MinYield: 20}, nil)

		rec := r.Recover(context.Background(), doc())
		require.False(t, rec.Failed)
		assert.Equal(t, "tiny", rec.Text)
	})

	t.Run("primary error fails", func(t *testing.T) {
		primary := &stubEngine{name: "primary", err: errors.New("boom")}
		r := NewRecoverer(primary, nil, RecoverConfig{MinYield: 20}, nil)

		rec := r.Recover(context.Background(), doc())
		assert.True(t, rec.Failed)
	})
}

func TestRecoverFallbackRunsAtMostOnce(t *testing.T) {
	primary := &stubEngine{name: "primary", text: ""}
	fallback := &stubEngine{name: "fallback", text: ""}
	r := NewRecoverer(primary, fallback, RecoverConfig{MinYield: 20}, nil)

	_ = r.Recover(context.Background(), doc())

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}
