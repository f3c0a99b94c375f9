package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"kingfisher/internal/model"
)

const JPEGQuality = 95

var ErrUnsupportedFormat = errors.New("image must be a .jpg, .jpeg or .png file")

func ValidateExtension(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadSource reads the user's photo and checks that it decodes. The bytes are
// kept as-is so the original artifact is an exact copy.
func LoadSource(path string) (model.SourceImage, error) {
	if err := ValidateExtension(path); err != nil {
		return model.SourceImage{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.SourceImage{}, fmt.Errorf("read source image: %w", err)
	}

	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return model.SourceImage{}, fmt.Errorf("decode source image %s: %w", filepath.Base(path), err)
	}

	return model.SourceImage{
		Path:     path,
		Data:     data,
		MimeType: DetectMIME(data),
	}, nil
}

// DetectMIME sniffs an image MIME type, defaulting to image/png.
func DetectMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/png"
}

func ToPNG(data []byte) ([]byte, error) {
	return transcode(data, imaging.PNG)
}

func ToJPEG(data []byte) ([]byte, error) {
	return transcode(data, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
}

func transcode(data []byte, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encode %v: %w", format, err)
	}
	return buf.Bytes(), nil
}
