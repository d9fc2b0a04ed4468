package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opengov-gr/diavgeia-harvester/internal/source"
)

// Failure is one identifier's terminal error, carried into the run summary.
type Failure struct {
	ADA string
	Err string
}

// Summary is the end-of-run report: what ran, what was already done, what
// failed and why.
type Summary struct {
	Processed int
	Complete  int // already complete, no-op
	InFlight  int
	Skipped   int
	Aborted   int // hit the run-fatal condition; not terminal for the identifier
	Failed    []Failure
}

// OK reports whether every identifier either processed or was already done.
func (s Summary) OK() bool {
	return len(s.Failed) == 0
}

// Total counts every identifier the run saw.
func (s Summary) Total() int {
	return s.Processed + s.Complete + s.InFlight + s.Skipped + s.Aborted + len(s.Failed)
}

// Run pulls identifiers from src until end-of-sequence or cancellation,
// feeding the queue and collecting outcomes. A cancellation stops intake and
// lets in-flight identifiers finish their current stage; a storage-fatal
// error aborts with the summary so far.
func Run(ctx context.Context, src source.Source, q *Queue, logger *slog.Logger, onOutcome func(Outcome)) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var summary Summary
	done := make(chan struct{})
	go func() {
		defer close(done)
		for out := range q.Outcomes() {
			switch out.Disposition {
			case DispositionProcessed:
				summary.Processed++
			case DispositionComplete:
				summary.Complete++
			case DispositionInFlight:
				summary.InFlight++
			case DispositionFailed:
				summary.Failed = append(summary.Failed, Failure{ADA: out.ADA, Err: out.Err.Error()})
			case DispositionAborted:
				summary.Aborted++
			default:
				summary.Skipped++
			}
			if onOutcome != nil {
				onOutcome(out)
			}
		}
	}()

	var srcErr error
	for {
		if ctx.Err() != nil || q.Fatal() != nil {
			break
		}
		ada, err := src.Next(ctx)
		if errors.Is(err, source.ErrDone) {
			break
		}
		if err != nil {
			srcErr = fmt.Errorf("identifier source: %w", err)
			break
		}
		if !q.Enqueue(ctx, ada) {
			break
		}
	}

	q.Shutdown()
	<-done

	sort.Slice(summary.Failed, func(i, j int) bool { return summary.Failed[i].ADA < summary.Failed[j].ADA })

	if fatal := q.Fatal(); fatal != nil {
		return summary, fatal
	}
	if srcErr != nil {
		return summary, srcErr
	}

	logger.Info("run.done",
		"processed", summary.Processed,
		"already_complete", summary.Complete,
		"in_flight", summary.InFlight,
		"skipped", summary.Skipped,
		"failed", len(summary.Failed),
	)
	return summary, nil
}
