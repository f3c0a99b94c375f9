package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runDirLayout = "2006-01-02_150405"

// Dir writes artifacts into one fresh directory per run.
type Dir struct {
	path string

	mu      sync.Mutex
	written []string
}

// NewRunDir creates base/<timestamp>. A run started in the same second as an
// existing directory gets a numeric suffix instead of sharing it.
func NewRunDir(base string, now time.Time) (*Dir, error) {
	if strings.TrimSpace(base) == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create output base: %w", err)
	}

	stamp := now.Format(runDirLayout)
	for attempt := 0; attempt < 100; attempt++ {
		name := stamp
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d", stamp, attempt)
		}
		path := filepath.Join(base, name)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &Dir{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
	}
	return nil, fmt.Errorf("create run dir: too many runs at %s", stamp)
}

func (d *Dir) Location() string {
	return d.path
}

func (d *Dir) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	path := filepath.Join(d.path, name)
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(d.path)+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %q escapes run dir", ErrInvalidName, name)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return fmt.Errorf("open %s: %w", name, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}

	d.mu.Lock()
	d.written = append(d.written, name)
	d.mu.Unlock()
	return nil
}

func (d *Dir) Written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.written))
	copy(out, d.written)
	return out
}
