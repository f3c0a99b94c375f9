package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kingfisher/internal/extract"
	"kingfisher/internal/imageio"
	"kingfisher/internal/metrics"
	"kingfisher/internal/model"
	"kingfisher/internal/retry"
	"kingfisher/internal/sink"
)

const (
	MinCount = 1
	MaxCount = 5

	StageIngest            = "ingest"
	StageBackgroundRemoval = "background_removal"
	StageAnalysis          = "analysis"
	StageScene             = "scene"

	promptPreviewLen = 100
)

// Prompts supplies instruction text for the two prompted stages.
type Prompts interface {
	BackgroundRemoval() (string, error)
	Analysis(count int) (string, error)
}

type Options struct {
	Gateway model.Gateway
	Prompts Prompts
	Retry   *retry.Policy

	ImageModel    string
	AnalysisModel string
	Count         int
	// RetryAnalysis applies the rate-limit retry to the analysis call too.
	RetryAnalysis bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Pipeline struct {
	gateway model.Gateway
	prompts Prompts
	retry   *retry.Policy

	imageModel    string
	analysisModel string
	count         int
	retryAnalysis bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Gateway == nil:
		return nil, fmt.Errorf("%w: gateway is required", ErrConfig)
	case opts.Prompts == nil:
		return nil, fmt.Errorf("%w: prompts are required", ErrConfig)
	case strings.TrimSpace(opts.ImageModel) == "":
		return nil, fmt.Errorf("%w: image model is required", ErrConfig)
	case strings.TrimSpace(opts.AnalysisModel) == "":
		return nil, fmt.Errorf("%w: analysis model is required", ErrConfig)
	case opts.Count < MinCount || opts.Count > MaxCount:
		return nil, fmt.Errorf("%w: count must be between %d and %d, got %d", ErrConfig, MinCount, MaxCount, opts.Count)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	policy := opts.Retry
	if policy == nil {
		policy = retry.New(retry.Options{Logger: logger, Metrics: opts.Metrics})
	}

	return &Pipeline{
		gateway:       opts.Gateway,
		prompts:       opts.Prompts,
		retry:         policy,
		imageModel:    opts.ImageModel,
		analysisModel: opts.AnalysisModel,
		count:         opts.Count,
		retryAnalysis: opts.RetryAnalysis,
		metrics:       opts.Metrics,
		logger:        logger,
	}, nil
}

// Run executes ingest, background removal, analysis and scene generation in
// order. The returned report is never nil; on a fatal error it lists the
// artifacts written before the failure.
func (p *Pipeline) Run(ctx context.Context, src model.SourceImage, out sink.Sink) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Source:    src.Path,
		OutputDir: out.Location(),
		Count:     p.count,
		StartedAt: time.Now(),
	}
	logger := p.logger.With("run_id", report.RunID)

	err := p.run(ctx, logger, src, out, report)
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
		logger.Error("pipeline aborted", "err", err, "written", len(report.Artifacts))
		return report, err
	}

	report.Complete = true
	logger.Info("pipeline complete", "artifacts", len(report.Artifacts), "degraded", report.Degraded, "dur_ms", report.Duration.Milliseconds())
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, src model.SourceImage, out sink.Sink, report *Report) error {
	bgPrompt, err := p.prompts.BackgroundRemoval()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	analysisPrompt, err := p.prompts.Analysis(p.count)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	// Ingest
	if len(src.Data) == 0 {
		return fmt.Errorf("%w: source image is empty", ErrIngest)
	}
	srcMime := src.MimeType
	if srcMime == "" {
		srcMime = imageio.DetectMIME(src.Data)
	}
	if err := out.Write(ctx, sink.OriginalName, src.Data); err != nil {
		return fmt.Errorf("%w: %w", ErrIngest, err)
	}
	report.add(Artifact{Name: sink.OriginalName, Stage: StageIngest})
	logger.Info("original saved", "stage", StageIngest, "artifact", sink.OriginalName, "bytes", len(src.Data))

	// Background removal
	cutout, result := p.generateImageWithFallback(ctx, logger, StageBackgroundRemoval, sink.CutoutName, model.Request{
		Model:      p.imageModel,
		Parts:      []model.Part{model.NewTextPart(bgPrompt), model.NewImagePart(srcMime, src.Data)},
		Modalities: []string{model.ModalityImage, model.ModalityText},
	}, src.Data, imageio.ToPNG)
	if err := p.persist(ctx, out, report, result, cutout); err != nil {
		return err
	}

	// Analysis
	analysis, doc, err := p.analyse(ctx, analysisPrompt, srcMime, src.Data)
	if err != nil {
		return err
	}
	if len(analysis.Scenes) > p.count {
		analysis.Scenes = analysis.Scenes[:p.count]
		if doc, err = extract.LimitScenes(doc, p.count); err != nil {
			return fmt.Errorf("%w: %w", ErrAnalysis, err)
		}
	} else if len(analysis.Scenes) < p.count {
		logger.Warn("analysis returned fewer scenes than requested", "stage", StageAnalysis, "requested", p.count, "got", len(analysis.Scenes))
	}
	report.Analysis = &analysis
	if err := out.Write(ctx, sink.AnalysisName, doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, sink.AnalysisName, err)
	}
	report.add(Artifact{Name: sink.AnalysisName, Stage: StageAnalysis})
	logger.Info("analysis saved",
		"stage", StageAnalysis,
		"product_type", analysis.ProductType,
		"product_category", analysis.ProductCategory,
		"style_tags", strings.Join(analysis.StyleTags, ", "),
		"scenes", len(analysis.Scenes),
	)

	// Scene generation
	cutoutMime := imageio.DetectMIME(cutout)
	for i, scene := range analysis.Scenes {
		name := sink.SceneName(i + 1)
		logger.Info("generating scene", "stage", StageScene, "index", i+1, "title", scene.Title, "prompt", preview(scene.DetailedPrompt))

		data, result := p.generateImageWithFallback(ctx, logger, StageScene, name, model.Request{
			Model:      p.imageModel,
			Parts:      []model.Part{model.NewTextPart(scene.DetailedPrompt), model.NewImagePart(cutoutMime, cutout)},
			Modalities: []string{model.ModalityImage, model.ModalityText},
		}, cutout, imageio.ToJPEG)
		result.Title = scene.Title
		if err := p.persist(ctx, out, report, result, data); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) analyse(ctx context.Context, prompt, mime string, image []byte) (model.Analysis, []byte, error) {
	req := model.Request{
		Model: p.analysisModel,
		Parts: []model.Part{model.NewTextPart(prompt), model.NewImagePart(mime, image)},
	}
	call := func(ctx context.Context) (model.Response, error) {
		return p.gateway.Invoke(ctx, req)
	}

	var (
		resp model.Response
		err  error
	)
	if p.retryAnalysis {
		resp, err = p.retry.Do(ctx, StageAnalysis, call)
	} else {
		resp, err = p.retry.Once(ctx, StageAnalysis, call)
	}
	if err != nil {
		return model.Analysis{}, nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}

	analysis, doc, err := extract.Analysis(resp.Text)
	if err != nil {
		return model.Analysis{}, nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	return analysis, doc, nil
}

// generateImageWithFallback runs one image-model call site. Any call,
// extraction or decode failure yields an exact copy of fallback instead.
func (p *Pipeline) generateImageWithFallback(
	ctx context.Context,
	logger *slog.Logger,
	stage, artifact string,
	req model.Request,
	fallback []byte,
	normalize func([]byte) ([]byte, error),
) ([]byte, Artifact) {
	result := Artifact{Name: artifact, Stage: stage}

	resp, err := p.retry.Do(ctx, stage, func(ctx context.Context) (model.Response, error) {
		return p.gateway.Invoke(ctx, req)
	})
	if err != nil {
		return p.fallback(logger, result, fallback, fmt.Sprintf("model call: %v", err))
	}

	img, err := extract.Image(resp)
	if err != nil {
		return p.fallback(logger, result, fallback, err.Error())
	}

	data, err := normalize(img)
	if err != nil {
		return p.fallback(logger, result, fallback, err.Error())
	}

	logger.Info("image generated", "stage", stage, "artifact", artifact, "bytes", len(data))
	return data, result
}

func (p *Pipeline) fallback(logger *slog.Logger, result Artifact, src []byte, reason string) ([]byte, Artifact) {
	out := make([]byte, len(src))
	copy(out, src)

	result.Fallback = true
	result.Reason = reason
	p.metrics.ObserveFallback(result.Stage)
	logger.Warn("using fallback copy", "stage", result.Stage, "artifact", result.Name, "reason", reason)
	return out, result
}

func (p *Pipeline) persist(ctx context.Context, out sink.Sink, report *Report, result Artifact, data []byte) error {
	if err := out.Write(ctx, result.Name, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, result.Name, err)
	}
	report.add(result)
	return nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= promptPreviewLen {
		return s
	}
	return string(r[:promptPreviewLen]) + "..."
}
