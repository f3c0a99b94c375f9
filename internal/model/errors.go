package model

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

var rateLimitPattern = regexp.MustCompile(`(?i)\b429\b|rate[ _-]?limit|too many requests|resource[ _-]?exhausted|quota exceeded`)

// CallError is returned by every Gateway implementation when a call fails.
type CallError struct {
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("model %s: status %d: %s", e.Model, e.StatusCode, msg)
	}
	return fmt.Sprintf("model %s: %s", e.Model, msg)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) RateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if rateLimitPattern.MatchString(e.Message) {
		return true
	}
	return e.Err != nil && rateLimitPattern.MatchString(e.Err.Error())
}

// IsRateLimit reports whether err looks like request throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.RateLimited()
	}
	return rateLimitPattern.MatchString(err.Error())
}
