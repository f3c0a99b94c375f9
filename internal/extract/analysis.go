package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"kingfisher/internal/model"
)

const rawExcerptLimit = 500

var (
	ErrMalformedAnalysis = errors.New("malformed analysis response")

	jsonFenceRegex = regexp.MustCompile("(?i)```json")
)

// AnalysisError keeps a truncated copy of the model text for diagnosis.
type AnalysisError struct {
	Raw string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %v (raw: %q)", ErrMalformedAnalysis, e.Err, e.Raw)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func (e *AnalysisError) Is(target error) bool {
	return target == ErrMalformedAnalysis
}

type analysisFields struct {
	ProductType     *string   `json:"product_type"`
	ProductCategory *string   `json:"product_category"`
	StyleTags       *[]string `json:"style_tags"`
}

type sceneDoc struct {
	Title          *string `json:"scene_title"`
	DetailedPrompt *string `json:"detailed_prompt"`
}

// analysisDoc accepts both the nested {"analysis": {...}, "scenes": [...]}
// shape and a flat record.
type analysisDoc struct {
	Analysis *analysisFields `json:"analysis"`
	analysisFields
	Scenes *[]sceneDoc `json:"scenes"`
}

// Analysis parses the analysis model's text into a record. The second return
// value is the JSON document re-indented for persistence.
func Analysis(text string) (model.Analysis, []byte, error) {
	candidate := JSONCandidate(text)

	var doc analysisDoc
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return model.Analysis{}, nil, newAnalysisError(text, fmt.Errorf("parse json: %w", err))
	}

	result, err := doc.validate()
	if err != nil {
		return model.Analysis{}, nil, newAnalysisError(text, err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(candidate), "", "  "); err != nil {
		return model.Analysis{}, nil, newAnalysisError(text, fmt.Errorf("indent json: %w", err))
	}
	pretty.WriteByte('\n')

	return result, pretty.Bytes(), nil
}

// LimitScenes cuts the scenes array of an analysis document to at most n
// entries. Other keys are kept; the result is re-indented with two spaces.
func LimitScenes(doc []byte, n int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("parse analysis document: %w", err)
	}

	var scenes []json.RawMessage
	if err := json.Unmarshal(fields["scenes"], &scenes); err != nil {
		return nil, fmt.Errorf("parse analysis scenes: %w", err)
	}
	if len(scenes) <= n {
		return doc, nil
	}

	limited := make(map[string]any, len(fields))
	for k, v := range fields {
		limited[k] = v
	}
	limited["scenes"] = scenes[:n]

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(limited); err != nil {
		return nil, fmt.Errorf("encode analysis document: %w", err)
	}
	return out.Bytes(), nil
}

// JSONCandidate returns the body of the first ```json fence, or the whole
// text when there is none.
func JSONCandidate(text string) string {
	loc := jsonFenceRegex.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	rest := text[loc[1]:]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func (d analysisDoc) validate() (model.Analysis, error) {
	fields := d.analysisFields
	if d.Analysis != nil {
		fields = *d.Analysis
	}

	var missing []string
	if fields.ProductType == nil {
		missing = append(missing, "product_type")
	}
	if fields.ProductCategory == nil {
		missing = append(missing, "product_category")
	}
	if fields.StyleTags == nil {
		missing = append(missing, "style_tags")
	}
	if d.Scenes == nil {
		missing = append(missing, "scenes")
	}
	if len(missing) > 0 {
		return model.Analysis{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if len(*d.Scenes) == 0 {
		return model.Analysis{}, errors.New("scenes is empty")
	}

	scenes := make([]model.Scene, 0, len(*d.Scenes))
	for i, s := range *d.Scenes {
		if s.Title == nil {
			return model.Analysis{}, fmt.Errorf("scene %d: missing scene_title", i+1)
		}
		if s.DetailedPrompt == nil || strings.TrimSpace(*s.DetailedPrompt) == "" {
			return model.Analysis{}, fmt.Errorf("scene %d: missing detailed_prompt", i+1)
		}
		scenes = append(scenes, model.Scene{Title: *s.Title, DetailedPrompt: *s.DetailedPrompt})
	}

	tags := make([]string, len(*fields.StyleTags))
	copy(tags, *fields.StyleTags)

	return model.Analysis{
		ProductType:     *fields.ProductType,
		ProductCategory: *fields.ProductCategory,
		StyleTags:       tags,
		Scenes:          scenes,
	}, nil
}

func newAnalysisError(raw string, err error) *AnalysisError {
	return &AnalysisError{Raw: truncate(raw, rawExcerptLimit), Err: err}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
