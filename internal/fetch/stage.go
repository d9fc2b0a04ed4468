package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/opengov-gr/diavgeia-harvester/internal/entity"
)

// Client is the remote-portal surface the stage needs. The concrete HTTP
// implementation lives in internal/diavgeia.
type Client interface {
	// Decision returns the metadata envelope for one ADA.
	Decision(ctx context.Context, ada string) (entity.MetadataEnvelope, error)
	// Document returns the attached document bytes and the URL they came from.
	Document(ctx context.Context, ada string) ([]byte, string, error)
}

// Result carries everything one fetch produced; persistence is the content
// store's job, not the stage's.
type Result struct {
	ADA       string
	Bytes     []byte
	SourceURL string
	Envelope  entity.MetadataEnvelope
}

// Stage retrieves a decision's document and metadata, under the shared rate
// limiter and the bounded retry policy.
type Stage struct {
	Client  Client
	Limiter *rate.Limiter
	Policy  Policy
	Logger  *slog.Logger
}

func NewStage(client Client, limiter *rate.Limiter, policy Policy, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Stage{Client: client, Limiter: limiter, Policy: policy, Logger: logger}
}

// Fetch retrieves the envelope and document for ada. Transient failures are
// retried with backoff inside the policy bound; a permanent failure or an
// exhausted transient one is returned to the coordinator as-is.
func (s *Stage) Fetch(ctx context.Context, ada string) (Result, error) {
	var out Result

	err := s.Policy.Do(ctx, func(ctx context.Context) error {
		if err := s.Limiter.Wait(ctx); err != nil {
			return err
		}
		env, err := s.Client.Decision(ctx, ada)
		if err != nil {
			return fmt.Errorf("decision %s: %w", ada, err)
		}

		if err := s.Limiter.Wait(ctx); err != nil {
			return err
		}
		body, srcURL, err := s.Client.Document(ctx, ada)
		if err != nil {
			return fmt.Errorf("document %s: %w", ada, err)
		}

		out = Result{ADA: ada, Bytes: body, SourceURL: srcURL, Envelope: env}
		return nil
	})
	if err != nil {
		s.Logger.Error("fetch.failed", "ada", ada, "err", err)
		return Result{}, err
	}

	s.Logger.Info("fetch.ok", "ada", ada, "bytes", len(out.Bytes), "source_url", out.SourceURL)
	return out, nil
}
