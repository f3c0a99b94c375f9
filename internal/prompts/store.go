package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	BackgroundRemoval = "background_removal"
	ProductAnalysis   = "product_analysis"

	countPlaceholder = "{count}"
)

var (
	ErrMissing = errors.New("prompt template not found")

	Required = []string{BackgroundRemoval, ProductAnalysis}
)

type Options struct {
	Dir string
}

// Store maps symbolic prompt names to <Dir>/<name>.txt. Templates are read
// once and kept for the life of the process.
type Store struct {
	dir   string
	cache *cache.Cache
	group singleflight.Group
}

func New(opts Options) *Store {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "prompts"
	}
	return &Store{
		dir:   dir,
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Load(name string) (string, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached.(string), nil
	}

	v, err, _ := s.group.Do(name, func() (interface{}, error) {
		text, err := s.read(name)
		if err != nil {
			return nil, err
		}
		s.cache.Set(name, text, cache.NoExpiration)
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Preload reads every required template and fails on the first missing one.
func (s *Store) Preload(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, name := range Required {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			_, err := s.Load(name)
			return err
		})
	}
	return eg.Wait()
}

func (s *Store) BackgroundRemoval() (string, error) {
	return s.Load(BackgroundRemoval)
}

// Analysis returns the analysis template with {count} substituted.
func (s *Store) Analysis(count int) (string, error) {
	text, err := s.Load(ProductAnalysis)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(text, countPlaceholder, strconv.Itoa(count)), nil
}

func (s *Store) read(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\.`) {
		return "", fmt.Errorf("invalid prompt name %q", name)
	}

	path := filepath.Join(s.dir, name+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("prompt %s is empty", path)
	}
	return text, nil
}
