package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kingfisher/internal/config"
	"kingfisher/internal/model"
	"kingfisher/internal/pipeline"
)

const briefJSON = "```json\n" + `{
  "analysis": {"product_type": "sneaker", "product_category": "footwear", "style_tags": ["urban"]},
  "scenes": [
    {"scene_title": "Street", "detailed_prompt": "sneaker on wet asphalt"},
    {"scene_title": "Studio", "detailed_prompt": "sneaker on a white plinth"}
  ]
}` + "\n```"

type fakeGateway struct {
	invokeFunc func(ctx context.Context, req model.Request) (model.Response, error)
	calls      int
}

func (f *fakeGateway) Invoke(ctx context.Context, req model.Request) (model.Response, error) {
	f.calls++
	return f.invokeFunc(ctx, req)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(5, 5, color.NRGBA{R: 40, G: 120, B: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func workingGateway(t *testing.T) *fakeGateway {
	generated := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t))
	return &fakeGateway{
		invokeFunc: func(ctx context.Context, req model.Request) (model.Response, error) {
			switch {
			case req.MaxTokens == 1:
				return model.Response{Text: "ok", HasText: true}, nil
			case req.Model == "test-analysis":
				return model.Response{Text: briefJSON, HasText: true}, nil
			default:
				return model.Response{Images: []model.GeneratedImage{{URL: generated}}}, nil
			}
		},
	}
}

type harness struct {
	t       *testing.T
	app     *app
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	outDir  string
	image   string
	gateway *fakeGateway
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Setenv("MODEL_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "test-key")
	t.Setenv("IMAGE_MODEL", "test-image")
	t.Setenv("ANALYSIS_MODEL", "test-analysis")
	t.Setenv("LOG_LEVEL", "debug")

	dir := t.TempDir()
	image := filepath.Join(dir, "shoe.png")
	require.NoError(t, os.WriteFile(image, testPNG(t), 0o644))

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp(stdout, stderr)
	a.newGateway = func(ctx context.Context, cfg config.Config, logger *slog.Logger) (model.Gateway, error) {
		return gw, nil
	}
	a.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	return &harness{
		t:       t,
		app:     a,
		stdout:  stdout,
		stderr:  stderr,
		outDir:  filepath.Join(dir, "output"),
		image:   image,
		gateway: gw,
	}
}

func (h *harness) run(extra ...string) int {
	args := append([]string{h.image, "--output-dir", h.outDir, "--prompts-dir", filepath.Join("..", "..", "prompts")}, extra...)
	return h.app.execute(context.Background(), args)
}

func (h *harness) runDirFiles() []string {
	h.t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.outDir, "2025-06-01_120000"))
	require.NoError(h.t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestExecute_FullRunJSON(t *testing.T) {
	h := newHarness(t, workingGateway(t))

	code := h.run("--count", "2", "--json")
	require.Equal(t, exitOK, code, h.stderr.String())

	var report pipeline.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.True(t, report.Complete)
	assert.False(t, report.Degraded)
	assert.Len(t, report.Artifacts, 5)
	assert.Equal(t, "sneaker", report.Analysis.ProductType)

	assert.ElementsMatch(t, []string{"original.jpg", "cutout.png", "analysis.json", "scene1.jpg", "scene2.jpg"}, h.runDirFiles())
}

func TestExecute_HumanSummary(t *testing.T) {
	h := newHarness(t, workingGateway(t))

	require.Equal(t, exitOK, h.run())
	assert.Contains(t, h.stdout.String(), "Output folder:")
	assert.Contains(t, h.stdout.String(), "marketing image: Street")
	assert.NotContains(t, h.stdout.String(), "fallback")
}

func TestExecute_DegradedRun(t *testing.T) {
	brokenImages := func(t *testing.T) *fakeGateway {
		gw := workingGateway(t)
		next := gw.invokeFunc
		gw.invokeFunc = func(ctx context.Context, req model.Request) (model.Response, error) {
			if req.Model == "test-image" && req.MaxTokens == 0 {
				return model.Response{}, &model.CallError{Model: req.Model, StatusCode: 502, Message: "bad gateway"}
			}
			return next(ctx, req)
		}
		return gw
	}

	t.Run("lenient", func(t *testing.T) {
		h := newHarness(t, brokenImages(t))
		assert.Equal(t, exitOK, h.run("--count", "1"))
		assert.Contains(t, h.stdout.String(), "[fallback copy]")
		assert.Len(t, h.runDirFiles(), 4)
	})

	t.Run("strict", func(t *testing.T) {
		h := newHarness(t, brokenImages(t))
		assert.Equal(t, exitDegraded, h.run("--count", "1", "--strict"))
		assert.Len(t, h.runDirFiles(), 4)
	})
}

func TestExecute_PreflightFailureCreatesNothing(t *testing.T) {
	gw := &fakeGateway{
		invokeFunc: func(ctx context.Context, req model.Request) (model.Response, error) {
			return model.Response{}, &model.CallError{Model: req.Model, StatusCode: 404, Message: "no such model"}
		},
	}
	h := newHarness(t, gw)

	assert.Equal(t, exitFatal, h.run())
	assert.Contains(t, h.stderr.String(), "model preflight failed")
	assert.NoDirExists(t, h.outDir)
	assert.Equal(t, 1, gw.calls)
}

func TestExecute_AnalysisFailureIsFatal(t *testing.T) {
	gw := workingGateway(t)
	next := gw.invokeFunc
	gw.invokeFunc = func(ctx context.Context, req model.Request) (model.Response, error) {
		if req.Model == "test-analysis" && req.MaxTokens == 0 {
			return model.Response{Text: "I cannot describe this product.", HasText: true}, nil
		}
		return next(ctx, req)
	}
	h := newHarness(t, gw)

	assert.Equal(t, exitFatal, h.run("--count", "2"))
	assert.ElementsMatch(t, []string{"original.jpg", "cutout.png"}, h.runDirFiles())
	assert.Contains(t, h.stderr.String(), "analysis failed")
}

func TestExecute_InputValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    func(h *harness) []string
		wantErr string
	}{
		{
			name:    "count too high",
			args:    func(h *harness) []string { return []string{h.image, "--count", "6"} },
			wantErr: "--count must be between 1 and 5",
		},
		{
			name:    "count zero",
			args:    func(h *harness) []string { return []string{h.image, "-c", "0"} },
			wantErr: "--count must be between 1 and 5",
		},
		{
			name:    "wrong extension",
			args:    func(h *harness) []string { return []string{filepath.Join(filepath.Dir(h.image), "shoe.gif")} },
			wantErr: "must be a .jpg, .jpeg or .png",
		},
		{
			name:    "missing file",
			args:    func(h *harness) []string { return []string{filepath.Join(filepath.Dir(h.image), "nope.jpg")} },
			wantErr: "image not readable",
		},
		{
			name:    "no args",
			args:    func(h *harness) []string { return nil },
			wantErr: "accepts 1 arg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := workingGateway(t)
			h := newHarness(t, gw)

			code := h.app.execute(context.Background(), tt.args(h))
			assert.Equal(t, exitFatal, code)
			assert.Contains(t, h.stderr.String(), tt.wantErr)
			assert.Zero(t, gw.calls)
		})
	}
}

func TestExecute_MissingCredential(t *testing.T) {
	h := newHarness(t, workingGateway(t))
	t.Setenv("OPENROUTER_API_KEY", "")

	assert.Equal(t, exitFatal, h.run())
	assert.Contains(t, h.stderr.String(), "OPENROUTER_API_KEY is required")
	assert.Zero(t, h.gateway.calls)
}

func TestExecute_MissingPromptTemplate(t *testing.T) {
	h := newHarness(t, workingGateway(t))

	code := h.app.execute(context.Background(), []string{h.image, "--output-dir", h.outDir, "--prompts-dir", t.TempDir()})
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, h.stderr.String(), "prompt template not found")
	assert.Zero(t, h.gateway.calls)
	assert.NoDirExists(t, h.outDir)
}

func TestExecute_MetricsFile(t *testing.T) {
	h := newHarness(t, workingGateway(t))
	metricsPath := filepath.Join(t.TempDir(), "kingfisher.prom")

	require.Equal(t, exitOK, h.run("--metrics-file", metricsPath))

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kingfisher_model_calls_total{outcome="ok",site="scene"} 1`)
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
