// Package pipeline coordinates the per-identifier stage sequence
// fetch → store → extract → normalize, persisting every state transition so
// an interrupted run resumes at the last completed stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opengov-gr/diavgeia-harvester/constants"
	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
	"github.com/opengov-gr/diavgeia-harvester/internal/extract"
	"github.com/opengov-gr/diavgeia-harvester/internal/fetch"
	"github.com/opengov-gr/diavgeia-harvester/internal/repository"
	"github.com/opengov-gr/diavgeia-harvester/internal/store"
)

// Fetcher is the fetch stage as the coordinator sees it.
type Fetcher interface {
	Fetch(ctx context.Context, ada string) (fetch.Result, error)
}

// ContentStore is the slice of the raw-document store the coordinator uses.
type ContentStore interface {
	Put(ada string, data []byte, sourceURL string) (entity.RawDocument, bool, error)
	Get(ada string) (entity.RawDocument, error)
	ReadBytes(doc entity.RawDocument) ([]byte, error)
	PutEnvelope(ada string, raw []byte) error
	GetEnvelope(ada string) (entity.MetadataEnvelope, error)
}

// TextStore is the slice of the text-artifact store the coordinator uses.
type TextStore interface {
	Put(art entity.ExtractedText, text string) (entity.ExtractedText, error)
	Latest(ada, docSHA string) (entity.ExtractedText, bool, error)
}

// Normalizer is the normalization stage as the coordinator sees it.
type Normalizer interface {
	Normalize(env entity.MetadataEnvelope, textRef, rawRef *entity.ArtifactRef) (entity.StructuredRecord, error)
}

// Disposition says what Process actually did for an identifier.
type Disposition string

const (
	DispositionProcessed Disposition = "processed" // full or resumed stage sequence ran to Complete
	DispositionComplete  Disposition = "complete"  // already Complete: no-op
	DispositionInFlight  Disposition = "in-flight" // another worker holds it: no-op
	DispositionFailed    Disposition = "failed"    // terminal failure recorded, run continues
	DispositionSkipped   Disposition = "skipped"   // previously failed-terminal, left alone
	DispositionAborted   Disposition = "aborted"   // run-fatal condition surfaced while on this identifier
)

// Outcome is the per-identifier result surfaced into the run summary.
type Outcome struct {
	ADA         string
	Disposition Disposition
	Err         error
}

// Processor drives one identifier through the state machine. Shared mutable
// state lives behind the state repository's compare-and-set transitions, so
// two Process calls for the same ADA can never interleave.
type Processor struct {
	Logger     *slog.Logger
	States     repository.StateRepository
	Records    repository.RecordRepository
	Content    ContentStore
	Texts      TextStore
	Fetcher    Fetcher
	Extractor  extract.Extractor
	Normalizer Normalizer
}

// Process runs the stage sequence for ada from wherever a prior run left off.
// The returned error is non-nil only for run-fatal conditions (storage
// unavailable, context cancelled); per-identifier failures land in the
// Outcome with a nil error.
func (p *Processor) Process(ctx context.Context, ada string) (Outcome, error) {
	owner := uuid.NewString()

	st, claimed, err := p.States.Claim(ctx, ada, owner)
	if err != nil {
		return Outcome{ADA: ada, Disposition: DispositionAborted}, fmt.Errorf("claim %s: %w", ada, err)
	}
	if !claimed {
		switch {
		case st.Status == constants.StageComplete:
			p.Logger.Debug("process.noop", "ada", ada, "status", st.Status)
			return Outcome{ADA: ada, Disposition: DispositionComplete}, nil
		case st.Status == constants.StageFailed:
			return Outcome{ADA: ada, Disposition: DispositionSkipped, Err: errors.New(st.LastError)}, nil
		default:
			p.Logger.Debug("process.in_flight", "ada", ada)
			return Outcome{ADA: ada, Disposition: DispositionInFlight}, nil
		}
	}

	out, err := p.run(ctx, ada, owner, st.Status)
	if err != nil {
		// cancelled or storage-fatal: drop the claim so a re-run resumes
		// cleanly at the last persisted stage
		_ = p.States.Release(context.WithoutCancel(ctx), ada, owner)
		return out, err
	}
	return out, nil
}

// run executes the remaining stages given the persisted status at claim time.
// Mid-stage statuses (a prior run died inside a stage) restart that stage.
func (p *Processor) run(ctx context.Context, ada, owner string, status constants.StageStatus) (Outcome, error) {
	var (
		doc entity.RawDocument
		env entity.MetadataEnvelope
		err error
	)

	if status == constants.StagePending || status == constants.StageFetching {
		doc, env, err = p.fetchStage(ctx, ada, owner)
		if err != nil {
			return p.settle(ctx, ada, owner, err)
		}
		status = constants.StageFetched
	} else {
		// a state row past FETCHED whose artifacts are gone (wiped data dir)
		// is a per-identifier inconsistency, not storage unavailability
		if doc, err = p.Content.Get(ada); err != nil {
			return p.settle(ctx, ada, owner, fmt.Errorf("load raw %s: %w", ada, err))
		}
		if env, err = p.Content.GetEnvelope(ada); err != nil {
			return p.settle(ctx, ada, owner, fmt.Errorf("load envelope %s: %w", ada, err))
		}
		p.Logger.Debug("process.resume", "ada", ada, "status", status)
	}

	var textArt *entity.ExtractedText
	var extractErr error
	if status == constants.StageFetched || status == constants.StageExtracting {
		textArt, extractErr = p.extractStage(ctx, ada, owner, doc)
		if extractErr != nil && !extract.IsExtraction(extractErr) {
			return p.settle(ctx, ada, owner, extractErr)
		}
	} else {
		if art, ok, err := p.Texts.Latest(ada, doc.SHA256); err != nil {
			return p.settle(ctx, ada, owner, err)
		} else if ok {
			textArt = &art
		}
	}

	if err := p.normalizeStage(ctx, ada, owner, doc, env, textArt); err != nil {
		return p.settle(ctx, ada, owner, err)
	}

	if err := p.States.Release(ctx, ada, owner); err != nil {
		return Outcome{ADA: ada, Disposition: DispositionAborted, Err: err}, err
	}
	p.Logger.Info("process.complete", "ada", ada, "extraction_failed", extractErr != nil)
	return Outcome{ADA: ada, Disposition: DispositionProcessed}, nil
}

func (p *Processor) fetchStage(ctx context.Context, ada, owner string) (entity.RawDocument, entity.MetadataEnvelope, error) {
	if err := p.States.Advance(ctx, ada, owner, constants.StageFetching); err != nil {
		return entity.RawDocument{}, entity.MetadataEnvelope{}, err
	}

	res, err := p.Fetcher.Fetch(ctx, ada)
	if err != nil {
		return entity.RawDocument{}, entity.MetadataEnvelope{}, err
	}

	doc, dedup, err := p.Content.Put(ada, res.Bytes, res.SourceURL)
	if err != nil {
		return entity.RawDocument{}, entity.MetadataEnvelope{}, err
	}
	if dedup {
		p.Logger.Debug("process.dedup", "ada", ada, "version", doc.Version)
	}
	if err := p.Content.PutEnvelope(ada, res.Envelope.Raw); err != nil {
		return entity.RawDocument{}, entity.MetadataEnvelope{}, err
	}

	if err := p.States.Advance(ctx, ada, owner, constants.StageFetched); err != nil {
		return entity.RawDocument{}, entity.MetadataEnvelope{}, err
	}
	return doc, res.Envelope, nil
}

// extractStage produces (or reuses) the text artifact for doc. An
// ExtractionError is returned to the caller but the stage still advances:
// normalization proceeds with a nil text reference and lowered completeness.
func (p *Processor) extractStage(ctx context.Context, ada, owner string, doc entity.RawDocument) (*entity.ExtractedText, error) {
	if err := p.States.Advance(ctx, ada, owner, constants.StageExtracting); err != nil {
		return nil, err
	}

	// same bytes, same method, same output: reuse the cached artifact
	if art, ok, err := p.Texts.Latest(ada, doc.SHA256); err != nil {
		return nil, err
	} else if ok {
		p.Logger.Debug("process.extract_cached", "ada", ada, "method", art.Method)
		if err := p.States.Advance(ctx, ada, owner, constants.StageExtracted); err != nil {
			return nil, err
		}
		return &art, nil
	}

	data, err := p.Content.ReadBytes(doc)
	if err != nil {
		return nil, err
	}

	res, extractErr := p.Extractor.Extract(ctx, data)
	if extractErr != nil {
		if !extract.IsExtraction(extractErr) {
			return nil, extractErr
		}
		p.Logger.Warn("process.extract_failed", "ada", ada, "err", extractErr)
		if err := p.States.Advance(ctx, ada, owner, constants.StageExtracted); err != nil {
			return nil, err
		}
		return nil, extractErr
	}

	art, err := p.Texts.Put(entity.ExtractedText{
		ADA:      ada,
		DocSHA:   doc.SHA256,
		Method:   res.Method,
		Pages:    res.Pages,
		Quality:  res.Quality,
		Warnings: res.Warnings,
	}, res.Text)
	if err != nil {
		return nil, err
	}

	if err := p.States.Advance(ctx, ada, owner, constants.StageExtracted); err != nil {
		return nil, err
	}
	return &art, nil
}

func (p *Processor) normalizeStage(ctx context.Context, ada, owner string, doc entity.RawDocument, env entity.MetadataEnvelope, textArt *entity.ExtractedText) error {
	if err := p.States.Advance(ctx, ada, owner, constants.StageNormalizing); err != nil {
		return err
	}

	rawRef := &entity.ArtifactRef{Path: doc.Path, SHA256: doc.SHA256}
	var textRef *entity.ArtifactRef
	if textArt != nil {
		textRef = &entity.ArtifactRef{Path: textArt.Path, SHA256: textArt.DocSHA}
	}

	rec, err := p.Normalizer.Normalize(env, textRef, rawRef)
	if err != nil {
		return err
	}

	if err := p.Records.Replace(ctx, rec); err != nil {
		return err
	}

	return p.States.Advance(ctx, ada, owner, constants.StageComplete)
}

// settle classifies a stage error: storage failures, run cancellation, and a
// lost claim abort the run; everything else is recorded as this identifier's
// terminal failure and the run moves on. The per-identifier stage deadline
// lands in the second bucket — run cancellation arrives as context.Canceled,
// a DeadlineExceeded here means one identifier overran its stage budget.
func (p *Processor) settle(ctx context.Context, ada, owner string, err error) (Outcome, error) {
	stageTimeout := errors.Is(err, context.DeadlineExceeded)
	if !stageTimeout &&
		(store.IsStorage(err) || errors.Is(err, context.Canceled) || errors.Is(err, repository.ErrLostClaim)) {
		return Outcome{ADA: ada, Disposition: DispositionAborted, Err: err}, err
	}

	// permanent fetch errors, exhausted retries, validation failures, and
	// stage timeouts are all terminal for this identifier only. The Fail
	// write must survive the expired stage context.
	if ferr := p.States.Fail(context.WithoutCancel(ctx), ada, owner, err.Error()); ferr != nil {
		return Outcome{ADA: ada, Disposition: DispositionAborted, Err: err}, ferr
	}
	return Outcome{ADA: ada, Disposition: DispositionFailed, Err: err}, nil
}
