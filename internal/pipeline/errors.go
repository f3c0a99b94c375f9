package pipeline

import "errors"

var (
	ErrConfig    = errors.New("pipeline misconfigured")
	ErrPreflight = errors.New("model preflight failed")
	ErrIngest    = errors.New("ingest failed")
	ErrAnalysis  = errors.New("analysis failed")
	ErrPersist   = errors.New("persist artifact failed")
)
