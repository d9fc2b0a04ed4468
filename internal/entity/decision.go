package entity

import (
	"encoding/json"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/constants"
)

// RawDocument is one immutable stored version of a decision's attachment.
// Versions are append-only: a republished document with different bytes gets
// the next version number, the prior version stays retrievable forever.
type RawDocument struct {
	ADA       string    `json:"ada"`
	Version   int       `json:"version"`
	SHA256    string    `json:"sha256"` // hex
	SourceURL string    `json:"source_url"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ExtractedText is the plain-text artifact derived from one RawDocument.
// It is regenerable: same document bytes and method always produce the same
// artifact, so it may be recomputed without re-fetching.
type ExtractedText struct {
	ADA      string                     `json:"ada"`
	DocSHA   string                     `json:"doc_sha256"`
	Method   constants.ExtractionMethod `json:"method"`
	Path     string                     `json:"path"`
	Pages    int                        `json:"pages"`
	Quality  float32                    `json:"quality"`
	Warnings []string                   `json:"warnings,omitempty"`
}

// MetadataEnvelope is the unparsed per-decision API response. Raw keeps the
// exact bytes for provenance; Fields is the decoded object the normalizer
// reads. Read-only once fetched.
type MetadataEnvelope struct {
	ADA    string          `json:"ada"`
	Raw    json.RawMessage `json:"raw"`
	Fields map[string]any  `json:"-"`
}

// FinancialAmount is a fixed-point monetary value. Amount is a decimal string
// normalized to two fractional digits; Currency is an ISO-4217 code.
type FinancialAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ArtifactRef points a structured record back at the exact bytes it was
// derived from.
type ArtifactRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

// StructuredRecord is the published, canonical form of one decision. Optional
// fields are pointers so an unknown value is distinct from an empty one.
// Records are replaced whole, never patched field by field.
type StructuredRecord struct {
	ADA                string                 `json:"ada"`
	ProtocolNumber     *string                `json:"protocolNumber"`
	IssueDate          *string                `json:"issueDate"` // ISO calendar date, timezone-naive
	Subject            *string                `json:"subject"`
	OrganizationID     *string                `json:"organizationId"`
	UnitIDs            []string               `json:"unitIds"`
	Signatories        []string               `json:"signatories"`
	DecisionType       *string                `json:"decisionType"`
	FinancialAmounts   []FinancialAmount      `json:"financialAmounts"`
	ClassificationTags []string               `json:"classificationTags"`
	ExtractedTextRef   *ArtifactRef           `json:"extractedTextRef"`
	RawDocumentRef     *ArtifactRef           `json:"rawDocumentRef"`
	Completeness       constants.Completeness `json:"completeness"`
	FieldFlags         []string               `json:"fieldFlags,omitempty"` // nonconforming-but-kept fields
	NormalizedAt       time.Time              `json:"normalizedAt"`
}

// PipelineState is the coordinator's per-identifier ledger row. Owned and
// mutated exclusively by the state repository; never published.
type PipelineState struct {
	ADA       string                `json:"ada"`
	Status    constants.StageStatus `json:"status"`
	InFlight  bool                  `json:"in_flight"`
	Owner     string                `json:"owner,omitempty"` // claim token of the worker holding the identifier
	Attempts  int                   `json:"attempts"`
	LastError string                `json:"last_error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}
