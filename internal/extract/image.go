package extract

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"kingfisher/internal/model"
)

var ErrNoImage = errors.New("no generated image in response")

// Image returns the first embedded data:image URL of resp that decodes. An
// entry with a corrupt payload is skipped. The free-form text is never
// inspected.
func Image(resp model.Response) ([]byte, error) {
	if !resp.ImagesPresent() {
		return nil, fmt.Errorf("%w: images field absent", ErrNoImage)
	}

	var decodeErr error
	for i, img := range resp.Images {
		url := strings.TrimSpace(img.URL)
		if !strings.HasPrefix(strings.ToLower(url), "data:image") {
			continue
		}
		_, payload, ok := strings.Cut(url, ",")
		if !ok {
			continue
		}
		data, err := decodeBase64(payload)
		if err != nil {
			if decodeErr == nil {
				decodeErr = fmt.Errorf("decode image %d: %w", i, err)
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoImage, decodeErr)
	}
	return nil, fmt.Errorf("%w: %d entries, none a data:image URL", ErrNoImage, len(resp.Images))
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
