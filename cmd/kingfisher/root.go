package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"kingfisher/internal/config"
	"kingfisher/internal/imageio"
	"kingfisher/internal/metrics"
	"kingfisher/internal/model"
	"kingfisher/internal/pipeline"
	"kingfisher/internal/prompts"
	"kingfisher/internal/retry"
	"kingfisher/internal/sink"
)

const (
	exitOK       = 0
	exitFatal    = 1
	exitDegraded = 3
)

type options struct {
	count         int
	outputDir     string
	promptsDir    string
	imageModel    string
	analysisModel string
	jsonOutput    bool
	strict        bool
	metricsFile   string
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type gatewayFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (model.Gateway, error)

type app struct {
	stdout io.Writer
	stderr io.Writer

	newGateway gatewayFactory
	retryTimer backoff.Timer
	now        func() time.Time

	opts options
	cfg  config.Config
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		newGateway: newGateway,
		now:        time.Now,
	}
}

func (a *app) execute(ctx context.Context, args []string) int {
	cmd := a.command()
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(a.stderr, "Error:", err)
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return exitFatal
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kingfisher <image>",
		Short: "Turn one product photo into marketing images",
		Long: `Kingfisher removes the background from a product photo, asks an analysis
model for a creative brief, then renders one marketing scene per brief entry.

Every artifact is written to a fresh timestamped folder. Stages whose model call
fails fall back to a copy of the previous artifact and are reported as such.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       a.preRun,
		RunE:          a.run,
	}

	f := cmd.Flags()
	f.IntVarP(&a.opts.count, "count", "c", 1, "number of marketing images to generate (1-5)")
	f.StringVar(&a.opts.outputDir, "output-dir", "", "base folder for run output (default $OUTPUT_DIR or ./output)")
	f.StringVar(&a.opts.promptsDir, "prompts-dir", "", "folder holding prompt templates (default $PROMPTS_DIR or ./prompts)")
	f.StringVar(&a.opts.imageModel, "image-model", "", "image-edit model id (default $IMAGE_MODEL)")
	f.StringVar(&a.opts.analysisModel, "analysis-model", "", "analysis model id (default $ANALYSIS_MODEL)")
	f.BoolVar(&a.opts.jsonOutput, "json", false, "print the run report as JSON on stdout")
	f.BoolVar(&a.opts.strict, "strict", false, "exit with status 3 when any artifact is a fallback copy")
	f.StringVar(&a.opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")

	return cmd
}

func (a *app) preRun(cmd *cobra.Command, args []string) error {
	if a.opts.count < pipeline.MinCount || a.opts.count > pipeline.MaxCount {
		return fmt.Errorf("--count must be between %d and %d, got %d", pipeline.MinCount, pipeline.MaxCount, a.opts.count)
	}
	if err := imageio.ValidateExtension(args[0]); err != nil {
		return err
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("image not readable: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.opts.outputDir != "" {
		cfg.OutputDir = a.opts.outputDir
	}
	if a.opts.promptsDir != "" {
		cfg.PromptsDir = a.opts.promptsDir
	}
	if a.opts.imageModel != "" {
		cfg.ImageModel = a.opts.imageModel
	}
	if a.opts.analysisModel != "" {
		cfg.AnalysisModel = a.opts.analysisModel
	}
	a.cfg = cfg
	return nil
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := a.cfg
	logger := newLogger(cfg.LogLevel, a.stderr)

	gw, err := a.newGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("model gateway: %w", err)
	}

	store := prompts.New(prompts.Options{Dir: cfg.PromptsDir})
	if err := store.Preload(ctx); err != nil {
		return err
	}

	logger.Info("checking models", "provider", cfg.Provider, "image_model", cfg.ImageModel, "analysis_model", cfg.AnalysisModel)
	if err := pipeline.Preflight(ctx, gw, logger, cfg.ImageModel, cfg.AnalysisModel); err != nil {
		return err
	}

	src, err := imageio.LoadSource(args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrIngest, err)
	}

	out, err := sink.NewRunDir(cfg.OutputDir, a.now())
	if err != nil {
		return err
	}
	logger.Info("output directory", "path", out.Location())

	m := metrics.New()
	p, err := pipeline.New(pipeline.Options{
		Gateway: gw,
		Prompts: store,
		Retry: retry.New(retry.Options{
			Backoff: cfg.RetryBackoff,
			Logger:  logger,
			Metrics: m,
			Timer:   a.retryTimer,
		}),
		ImageModel:    cfg.ImageModel,
		AnalysisModel: cfg.AnalysisModel,
		Count:         a.opts.count,
		RetryAnalysis: cfg.RetryAnalysis,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	report, runErr := p.Run(ctx, src, out)

	if a.opts.metricsFile != "" {
		if err := m.WriteTextfile(a.opts.metricsFile); err != nil {
			logger.Warn("metrics not written", "path", a.opts.metricsFile, "err", err)
		}
	}

	if err := a.printReport(report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if a.opts.strict && report.Degraded {
		return &exitError{
			code: exitDegraded,
			err:  fmt.Errorf("%d of %d artifacts are fallback copies", len(report.Fallbacks()), len(report.Artifacts)),
		}
	}
	return nil
}

func (a *app) printReport(r *pipeline.Report) error {
	if a.opts.jsonOutput {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if r.Complete {
		fmt.Fprintln(a.stdout, "Complete! Your marketing images are ready.")
	} else {
		fmt.Fprintln(a.stdout, "Run stopped early.")
	}
	fmt.Fprintf(a.stdout, "Output folder: %s\n", r.OutputDir)
	for _, art := range r.Artifacts {
		line := fmt.Sprintf("  %-14s %s", art.Name, describe(art))
		if art.Fallback {
			line += " [fallback copy]"
		}
		fmt.Fprintln(a.stdout, line)
	}
	if r.Degraded {
		fmt.Fprintf(a.stdout, "%d artifact(s) are copies, not generated images.\n", len(r.Fallbacks()))
	}
	return nil
}

func describe(art pipeline.Artifact) string {
	switch art.Stage {
	case pipeline.StageIngest:
		return "original image"
	case pipeline.StageBackgroundRemoval:
		return "product cutout"
	case pipeline.StageAnalysis:
		return "analysis and creative direction"
	default:
		if art.Title != "" {
			return "marketing image: " + art.Title
		}
		return "marketing image"
	}
}
