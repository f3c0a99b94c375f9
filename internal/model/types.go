package model

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	ModalityImage = "image"
	ModalityText  = "text"
)

// Gateway performs one synchronous round trip against a generative model endpoint.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

type SourceImage struct {
	Path     string
	Data     []byte
	MimeType string
}

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

type Part struct {
	Type     PartType
	Text     string
	MimeType string
	Data     string // base64 payload for image parts
}

func NewTextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func NewImagePart(mimeType string, data []byte) Part {
	return Part{
		Type:     PartImage,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// DataURL renders an image part as data:<mime>;base64,<payload>.
func (p Part) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Data)
}

type Request struct {
	Model      string
	Parts      []Part
	Modalities []string
	MaxTokens  int
}

func (r Request) WantsImage() bool {
	for _, m := range r.Modalities {
		if strings.EqualFold(m, ModalityImage) {
			return true
		}
	}
	return false
}

type GeneratedImage struct {
	URL string // data URL
}

type Response struct {
	Text    string
	HasText bool

	// Images is nil when the response carried no images field at all and
	// non-nil (possibly empty) when the field was present.
	Images []GeneratedImage
}

func (r Response) ImagesPresent() bool {
	return r.Images != nil
}

type Scene struct {
	Title          string `json:"scene_title"`
	DetailedPrompt string `json:"detailed_prompt"`
}

type Analysis struct {
	ProductType     string   `json:"product_type"`
	ProductCategory string   `json:"product_category"`
	StyleTags       []string `json:"style_tags"`
	Scenes          []Scene  `json:"scenes"`
}
