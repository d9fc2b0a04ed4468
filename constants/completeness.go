package constants

// Completeness grades how much of the canonical schema a StructuredRecord
// actually carries, so consumers can filter degraded records.
type Completeness string

const (
	CompletenessComplete Completeness = "complete" // all core fields present and a usable text artifact
	CompletenessPartial  Completeness = "partial"  // some core fields missing, or no text artifact
	CompletenessMinimal  Completeness = "minimal"  // nothing beyond the ADA itself
)
