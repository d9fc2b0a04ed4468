// Package extract converts raw documents into plain text: the native PDF text
// layer first, OCR over rasterized pages when that yields nothing usable.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/constants"
)

// ExtractionError means the capability could produce no text at all (corrupt
// file, unsupported format). It is distinct from a legitimately empty result,
// which extraction never returns silently.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// IsExtraction reports whether err is a terminal extraction failure.
func IsExtraction(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// Result is the outcome of one extraction run over one document's bytes.
type Result struct {
	Text     string
	Pages    int
	Method   constants.ExtractionMethod
	Quality  float32 // heuristic 0..1; downstream consumers filter on it
	Duration time.Duration
	Warnings []string
}

// Extractor turns document bytes into text. Implementations must be pure:
// the same bytes always produce the same result, so outputs can be cached by
// content hash.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Result, error)
}
