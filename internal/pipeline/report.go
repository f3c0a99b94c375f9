package pipeline

import (
	"time"

	"kingfisher/internal/model"
)

type Artifact struct {
	Name     string `json:"name"`
	Stage    string `json:"stage"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Report describes one run. Degraded is set when any artifact is a copy of a
// prior artifact rather than model output.
type Report struct {
	RunID     string          `json:"run_id"`
	Source    string          `json:"source"`
	OutputDir string          `json:"output_dir"`
	Count     int             `json:"count"`
	Analysis  *model.Analysis `json:"analysis,omitempty"`
	Artifacts []Artifact      `json:"artifacts"`
	Complete  bool            `json:"complete"`
	Degraded  bool            `json:"degraded"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
}

func (r *Report) add(a Artifact) {
	r.Artifacts = append(r.Artifacts, a)
	if a.Fallback {
		r.Degraded = true
	}
}

func (r *Report) Fallbacks() []Artifact {
	var out []Artifact
	for _, a := range r.Artifacts {
		if a.Fallback {
			out = append(out, a)
		}
	}
	return out
}
