package constants

// ExtractionMethod tags which path produced an extracted-text artifact.
type ExtractionMethod string

const (
	MethodPDFText ExtractionMethod = "pdf-text" // native text layer via pdftotext
	MethodPDFOCR  ExtractionMethod = "pdf-ocr"  // rasterized pages through tesseract
)
