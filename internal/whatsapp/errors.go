package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrWindowClosed is returned when the platform refuses a free-form message
// because the recipient's session window has expired.
var ErrWindowClosed = errors.New("whatsapp: session window closed")

// Graph API error codes with special handling.
const (
	codeReengagement     = 131047 // more than 24h since the user last replied
	codeRateLimit        = 130429
	codePairRateLimit    = 131056
	codeThrottled        = 4
	codeAccountThrottled = 80007
)

// APIError is a non-2xx response from the Cloud API.
type APIError struct {
	StatusCode int
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp API %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp API %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrWindowClosed) match re-engagement rejections.
func (e *APIError) Is(target error) bool {
	return target == ErrWindowClosed && e.Code == codeReengagement
}

// IsTransient reports whether retrying the same request may succeed.
// Network failures, timeouts, 5xx and rate limits are transient; other
// client errors and window rejections are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWindowClosed) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeRateLimit, codePairRateLimit, codeThrottled, codeAccountThrottled:
			return true
		}
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, errTransport)
}

// errTransport marks failures before any HTTP response arrived.
var errTransport = errors.New("whatsapp transport error")

type graphErrorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
