// Package source produces the lazy, restartable sequence of decision
// identifiers the pipeline works through. Sources only guarantee a stable
// enumeration order; skipping already-completed identifiers is the
// coordinator's call, made against pipeline state.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/opengov-gr/diavgeia-harvester/internal/diavgeia"
)

// ErrDone signals end-of-sequence.
var ErrDone = errors.New("source: no more identifiers")

// Source yields decision identifiers one at a time.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Lister is the listing slice of the portal API the ListingSource pages over.
type Lister interface {
	Search(ctx context.Context, page, size int) ([]diavgeia.Summary, int, error)
}

// ListingSource enumerates ADAs from the portal's listing endpoint, page by
// page in the portal's order. StartPage is the resume cursor for a prior
// partial run.
type ListingSource struct {
	Lister    Lister
	PageSize  int
	StartPage int
	MaxPages  int // 0 = until the listing runs out

	page int
	buf  []diavgeia.Summary
}

func NewListingSource(lister Lister, pageSize, startPage, maxPages int) *ListingSource {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ListingSource{Lister: lister, PageSize: pageSize, StartPage: startPage, MaxPages: maxPages, page: startPage}
}

func (s *ListingSource) Next(ctx context.Context) (string, error) {
	for len(s.buf) == 0 {
		if s.MaxPages > 0 && s.page >= s.StartPage+s.MaxPages {
			return "", ErrDone
		}
		decisions, _, err := s.Lister.Search(ctx, s.page, s.PageSize)
		if err != nil {
			return "", fmt.Errorf("list page %d: %w", s.page, err)
		}
		s.page++
		if len(decisions) == 0 {
			return "", ErrDone
		}
		s.buf = decisions
	}

	next := s.buf[0]
	s.buf = s.buf[1:]
	if next.ADA == "" {
		return s.Next(ctx)
	}
	return next.ADA, nil
}

// Cursor returns the next page the source would request, for checkpointing.
func (s *ListingSource) Cursor() int { return s.page }

// ManifestSource reads newline-delimited ADAs from a file. Blank lines and
// '#' comments are skipped.
type ManifestSource struct {
	adas []string
	pos  int
}

func NewManifestSource(path string) (*ManifestSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var adas []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		adas = append(adas, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return &ManifestSource{adas: adas}, nil
}

func (s *ManifestSource) Next(_ context.Context) (string, error) {
	if s.pos >= len(s.adas) {
		return "", ErrDone
	}
	ada := s.adas[s.pos]
	s.pos++
	return ada, nil
}

// Len reports how many identifiers the manifest holds.
func (s *ManifestSource) Len() int { return len(s.adas) }

// SliceSource yields a fixed list, used for --ada flags and tests.
type SliceSource struct {
	adas []string
	pos  int
}

func NewSliceSource(adas ...string) *SliceSource {
	return &SliceSource{adas: adas}
}

func (s *SliceSource) Next(_ context.Context) (string, error) {
	if s.pos >= len(s.adas) {
		return "", ErrDone
	}
	ada := s.adas[s.pos]
	s.pos++
	return ada, nil
}

func (s *SliceSource) Len() int { return len(s.adas) }
