package constants

// StageStatus is the canonical status for rows in pipeline_state.
type StageStatus string

// Stable values (store these exact strings in the DB).
const (
	StagePending     StageStatus = "PENDING"     // identifier seen, nothing done yet
	StageFetching    StageStatus = "FETCHING"    // fetch in progress
	StageFetched     StageStatus = "FETCHED"     // raw document + envelope persisted
	StageExtracting  StageStatus = "EXTRACTING"  // text extraction in progress
	StageExtracted   StageStatus = "EXTRACTED"   // text artifact persisted (or extraction failed terminally)
	StageNormalizing StageStatus = "NORMALIZING" // structured record build in progress
	StageComplete    StageStatus = "COMPLETE"    // terminal success
	StageFailed      StageStatus = "FAILED"      // terminal failure
)

// Terminal reports whether a status allows no further transitions.
func (s StageStatus) Terminal() bool {
	return s == StageComplete || s == StageFailed
}
