package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

const (
	OriginalName = "original.jpg"
	CutoutName   = "cutout.png"
	AnalysisName = "analysis.json"
)

var (
	ErrExists      = errors.New("artifact already written")
	ErrInvalidName = errors.New("invalid artifact name")
)

// Sink persists named artifacts of one run. Every name is written at most once.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
	Location() string
}

func SceneName(i int) string {
	return fmt.Sprintf("scene%d.jpg", i)
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Memory keeps artifacts in process; used by tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[name] = buf
	m.order = append(m.order, name)
	return nil
}

func (m *Memory) Location() string {
	return "memory"
}

func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Names returns artifact names in write order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
