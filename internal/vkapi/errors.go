package vkapi

import (
	"errors"
	"fmt"
)

// ErrCaptchaNeeded is matched by API errors that require a human to solve a captcha.
var ErrCaptchaNeeded = errors.New("captcha needed")

const codeCaptchaNeeded = 14

// APIError is an error object returned inside an API envelope.
type APIError struct {
	Code    int64
	Message string
	Method  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error %d: %s", e.Method, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrCaptchaNeeded && e.Code == codeCaptchaNeeded
}
