package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opengov-gr/diavgeia-harvester/constants"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// Config names the external binaries and their knobs.
type Config struct {
	Pdftotext string // if empty -> "pdftotext"
	Pdftoppm  string // if empty -> "pdftoppm"
	Tesseract string // if empty -> "tesseract"

	Language string // tesseract -l value, default "ell+eng"
	DPI      int    // rasterization DPI for scanned pages, default 300
	MaxPages int    // 0 = no limit
}

// PopplerExtractor implements Extractor with poppler-utils and tesseract.
type PopplerExtractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewPopplerExtractor(cfg Config, logger *slog.Logger) *PopplerExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "ell+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &PopplerExtractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the command runner; tests stub the binaries through it.
func (e *PopplerExtractor) WithRunner(r Runner) *PopplerExtractor {
	e.runner = r
	return e
}

// Extract tries the native text layer first and falls back to OCR when the
// document is image-only or the native pass yields no usable text. An empty
// result from both paths is an ExtractionError, never a silent empty string.
func (e *PopplerExtractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	tmp, err := os.CreateTemp("", "dvg-*.pdf")
	if err != nil {
		return Result{}, &ExtractionError{Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Result{}, &ExtractionError{Err: err}
	}
	tmp.Close()

	var warnings []string

	text, pages, err := e.pdfToText(ctx, tmp.Name())
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("pdftotext: %v", err))
	} else if usable(text) {
		text = CleanText(text)
		res := Result{
			Text:     text,
			Pages:    pages,
			Method:   constants.MethodPDFText,
			Quality:  heuristicQuality(text, pages),
			Duration: time.Since(start),
			Warnings: warnings,
		}
		e.logger.Debug("extract.native", "pages", pages, "quality", res.Quality)
		return res, nil
	} else {
		warnings = append(warnings, "native text layer empty or unusable")
	}

	text, pages, ocrWarns, err := e.pdfToOCR(ctx, tmp.Name())
	warnings = append(warnings, ocrWarns...)
	if err != nil {
		return Result{}, &ExtractionError{Err: fmt.Errorf("ocr fallback: %w", err)}
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, &ExtractionError{Err: fmt.Errorf("no text produced by any method")}
	}

	text = CleanText(text)
	res := Result{
		Text:     text,
		Pages:    pages,
		Method:   constants.MethodPDFOCR,
		Quality:  heuristicQuality(text, pages),
		Duration: time.Since(start),
		Warnings: warnings,
	}
	e.logger.Debug("extract.ocr", "pages", pages, "quality", res.Quality)
	return res, nil
}

func (e *PopplerExtractor) pdfToText(ctx context.Context, path string) (string, int, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(errb)))
	}
	text := string(out)
	// form feed is the page separator
	return text, 1 + strings.Count(text, "\f"), nil
}

func (e *PopplerExtractor) pdfToOCR(ctx context.Context, path string) (string, int, []string, error) {
	tmpDir, err := os.MkdirTemp("", "dvg-pp-*")
	if err != nil {
		return "", 0, nil, err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", 0, []string{string(errb)}, err
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, nil, fmt.Errorf("pdftoppm produced no pages")
	}

	var b strings.Builder
	var warns []string
	for _, img := range matches {
		// tesseract <img> stdout -l <lang>
		out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, img, "stdout", "-l", e.cfg.Language)
		if err != nil {
			warns = append(warns, fmt.Sprintf("tesseract %s: %v: %s", filepath.Base(img), err, strings.TrimSpace(string(errb))))
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.Write(out)
	}
	return b.String(), len(matches), warns, nil
}
