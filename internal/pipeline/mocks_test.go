package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"kingfisher/internal/model"
	"kingfisher/internal/retry"
)

const (
	testImageModel    = "image-model"
	testAnalysisModel = "analysis-model"
	testBgPrompt      = "remove the background"
)

type mockGateway struct {
	mu         sync.Mutex
	calls      []model.Request
	invokeFunc func(ctx context.Context, req model.Request) (model.Response, error)
}

func (m *mockGateway) Invoke(ctx context.Context, req model.Request) (model.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.invokeFunc(ctx, req)
}

func (m *mockGateway) callsFor(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if requestKind(c) == kind {
			n++
		}
	}
	return n
}

// requestKind tells the three call sites apart by model and prompt.
func requestKind(req model.Request) string {
	switch {
	case req.Model == testAnalysisModel:
		return StageAnalysis
	case len(req.Parts) > 0 && req.Parts[0].Text == testBgPrompt:
		return StageBackgroundRemoval
	default:
		return StageScene
	}
}

type mockPrompts struct {
	bgErr       error
	analysisErr error
}

func (m mockPrompts) BackgroundRemoval() (string, error) {
	return testBgPrompt, m.bgErr
}

func (m mockPrompts) Analysis(count int) (string, error) {
	if m.analysisErr != nil {
		return "", m.analysisErr
	}
	return "analyse the product, give scenes", nil
}

type instantTimer struct {
	c chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func testPolicy() *retry.Policy {
	return retry.New(retry.Options{Timer: newInstantTimer()})
}

func pngBytes(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(6, 4, c), imaging.PNG))
	return buf.Bytes()
}

func imageResponse(data []byte) model.Response {
	return model.Response{
		Text:    "here it is",
		HasText: true,
		Images:  []model.GeneratedImage{{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)}},
	}
}

func textResponse(text string) model.Response {
	return model.Response{Text: text, HasText: true, Images: []model.GeneratedImage{}}
}

var (
	errRateLimited = &model.CallError{Model: testImageModel, StatusCode: 429, Message: "rate limit exceeded"}
	errServer      = &model.CallError{Model: testImageModel, StatusCode: 500, Message: "internal error"}
	errTransport   = errors.New("dial tcp: connection refused")
)
