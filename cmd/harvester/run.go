package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/opengov-gr/diavgeia-harvester/internal/config"
	"github.com/opengov-gr/diavgeia-harvester/internal/diavgeia"
	"github.com/opengov-gr/diavgeia-harvester/internal/extract"
	"github.com/opengov-gr/diavgeia-harvester/internal/fetch"
	"github.com/opengov-gr/diavgeia-harvester/internal/logging"
	"github.com/opengov-gr/diavgeia-harvester/internal/normalize"
	"github.com/opengov-gr/diavgeia-harvester/internal/pipeline"
	"github.com/opengov-gr/diavgeia-harvester/internal/repository"
	"github.com/opengov-gr/diavgeia-harvester/internal/source"
	"github.com/opengov-gr/diavgeia-harvester/internal/store"
)

var (
	flagADAs        []string
	flagManifest    string
	flagFromPage    int
	flagPages       int
	flagPageSize    int
	flagConcurrency int
	flagMaxAttempts int
	flagRate        float64
	flagNoResume    bool
	flagStaleAfter  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline over a list, manifest, or listing range of identifiers",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&flagADAs, "ada", nil, "process this identifier (repeatable)")
	runCmd.Flags().StringVar(&flagManifest, "manifest", "", "newline-delimited file of identifiers")
	runCmd.Flags().IntVar(&flagFromPage, "from-page", 0, "listing page cursor to resume from")
	runCmd.Flags().IntVar(&flagPages, "pages", 0, "number of listing pages to process (0 = until exhausted)")
	runCmd.Flags().IntVar(&flagPageSize, "page-size", 100, "listing page size")
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "worker count (overrides config)")
	runCmd.Flags().IntVar(&flagMaxAttempts, "max-attempts", 0, "retry bound for transient fetch errors (overrides config)")
	runCmd.Flags().Float64Var(&flagRate, "rate", 0, "API requests per second (overrides config)")
	runCmd.Flags().BoolVar(&flagNoResume, "no-resume", false, "do not reclaim stale in-flight identifiers from a crashed run")
	runCmd.Flags().DurationVar(&flagStaleAfter, "stale-after", 30*time.Minute, "age after which an in-flight claim is considered stale")
	rootCmd.AddCommand(runCmd)
}

// app holds everything a command needs wired together.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	states  repository.StateRepository
	records repository.RecordRepository
	content *store.ContentStore
	texts   *store.TextStore
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if flagConcurrency > 0 {
		cfg.Pipeline.Workers = flagConcurrency
	}
	if flagMaxAttempts > 0 {
		cfg.Retry.MaxAttempts = flagMaxAttempts
	}
	if flagRate > 0 {
		cfg.API.RateLimit = flagRate
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := repository.Open(ctx, cfg.Storage.DSN, logger)
	if err != nil {
		return nil, err
	}

	content, err := store.NewContentStore(cfg.Storage.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	texts, err := store.NewTextStore(cfg.Storage.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		states:  repository.NewStateRepository(db, logger),
		records: repository.NewRecordRepository(db, logger),
		content: content,
		texts:   texts,
	}, nil
}

func (a *app) Close() { a.db.Close() }

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !flagNoResume {
		if n, err := a.states.ReleaseStale(ctx, flagStaleAfter); err != nil {
			return err
		} else if n > 0 {
			a.logger.Info("reclaimed stale identifiers", "count", n)
		}
	}

	client := diavgeia.NewClient(a.cfg.API.BaseURL, a.cfg.API.Timeout, a.logger)

	src, total, err := buildSource(client)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(a.cfg.API.RateLimit), a.cfg.API.Burst)
	policy := fetch.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		MaxDelay:    a.cfg.Retry.MaxDelay,
		Retryable:   fetch.IsTransient,
	}

	normalizer, err := normalize.NewStage(a.logger)
	if err != nil {
		return err
	}

	proc := &pipeline.Processor{
		Logger:  a.logger,
		States:  a.states,
		Records: a.records,
		Content: a.content,
		Texts:   a.texts,
		Fetcher: fetch.NewStage(client, limiter, policy, a.logger),
		Extractor: extract.NewPopplerExtractor(extract.Config{
			Pdftotext: a.cfg.Extract.Pdftotext,
			Pdftoppm:  a.cfg.Extract.Pdftoppm,
			Tesseract: a.cfg.Extract.Tesseract,
			Language:  a.cfg.Extract.Language,
			DPI:       a.cfg.Extract.DPI,
			MaxPages:  a.cfg.Extract.MaxPages,
		}, a.logger),
		Normalizer: normalizer,
	}

	q := pipeline.NewQueue(ctx, proc, a.logger,
		pipeline.WithWorkers(a.cfg.Pipeline.Workers),
		pipeline.WithQueueSize(a.cfg.Pipeline.QueueSize),
		pipeline.WithStageTimeout(a.cfg.Pipeline.StageTimeout),
	)

	var bar *progressbar.ProgressBar
	if total > 0 {
		bar = progressbar.Default(int64(total), "decisions")
	}
	onOutcome := func(pipeline.Outcome) {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	summary, runErr := pipeline.Run(ctx, src, q, a.logger, onOutcome)
	if bar != nil {
		_ = bar.Finish()
	}

	printSummary(summary)

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	if !summary.OK() {
		return fmt.Errorf("%d of %d identifiers failed", len(summary.Failed), summary.Total())
	}
	return nil
}

// buildSource picks the identifier source: explicit --ada list, a manifest
// file, or the portal listing from --from-page. Returns the expected count
// when it is known up front.
func buildSource(client *diavgeia.Client) (source.Source, int, error) {
	switch {
	case len(flagADAs) > 0:
		return source.NewSliceSource(flagADAs...), len(flagADAs), nil
	case flagManifest != "":
		src, err := source.NewManifestSource(flagManifest)
		if err != nil {
			return nil, 0, err
		}
		return src, src.Len(), nil
	default:
		return source.NewListingSource(client, flagPageSize, flagFromPage, flagPages), 0, nil
	}
}

func printSummary(s pipeline.Summary) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s %d processed, %d already complete, %d skipped\n",
		green("done:"), s.Processed, s.Complete, s.InFlight+s.Skipped)

	if len(s.Failed) > 0 {
		fmt.Printf("%s %d identifiers failed:\n", red("failed:"), len(s.Failed))
		for _, f := range s.Failed {
			fmt.Printf("  %s  %s\n", yellow(f.ADA), f.Err)
		}
	}
}
