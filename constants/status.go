package constants

// Stage is the canonical per-document pipeline stage.
type Stage string

// Stable values (reported in batch summaries; store these exact strings).
const (
	StageFetched    Stage = "FETCHED"    // document handed over by the ingestion collaborator
	StageRecovered  Stage = "RECOVERED"  // stage 1 completed (text recovered)
	StageExtracted  Stage = "EXTRACTED"  // stage 2 completed (structured fields extracted)
	StageNormalized Stage = "NORMALIZED" // stage 3 completed (canonical typed values)
	StagePersisted  Stage = "PERSISTED"  // terminal success
)

// DocStatus is the terminal disposition of a document within a batch.
type DocStatus string

const (
	StatusPersisted DocStatus = "PERSISTED"
	StatusFailed    DocStatus = "FAILED"
)

// Engine attribution for recovered text.
const (
	EnginePrimary  = "primary"
	EngineFallback = "fallback"
)
