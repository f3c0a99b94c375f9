package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 429", &CallError{Model: "m", StatusCode: 429, Message: "slow down"}, true},
		{"message signature", &CallError{Model: "m", StatusCode: 502, Message: "Rate limit exceeded upstream"}, true},
		{"quota", &CallError{Model: "m", Message: "RESOURCE_EXHAUSTED: quota exceeded"}, true},
		{"wrapped cause", &CallError{Model: "m", Err: errors.New("too many requests")}, true},
		{"plain error with code", fmt.Errorf("request: %w", errors.New("HTTP 429")), true},
		{"server error", &CallError{Model: "m", StatusCode: 500, Message: "internal"}, false},
		{"generate is not rate", &CallError{Model: "m", StatusCode: 400, Message: "failed to generate image"}, false},
		{"transport", errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}

func TestCallError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("invoke: %w", &CallError{Model: "m", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "model m: boom")
}

func TestResponse_ImagesPresent(t *testing.T) {
	assert.False(t, Response{}.ImagesPresent())
	assert.True(t, Response{Images: []GeneratedImage{}}.ImagesPresent())
}

func TestNewImagePart_DataURL(t *testing.T) {
	p := NewImagePart("image/png", []byte("abc"))
	assert.Equal(t, PartImage, p.Type)
	assert.Equal(t, "data:image/png;base64,YWJj", p.DataURL())
}
