package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

// ProviderError is the provider-independent failure shape used to decide
// whether the fallback client should move on to the next model.
type ProviderError struct {
	StatusCode int    // HTTP status, 0 if unknown
	Code       string // textual code reported by the provider, optional
	Message    string
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("status %d", e.StatusCode)
	case e.Code != "":
		return fmt.Sprintf("code %s: %s", e.Code, e.Message)
	}
	return e.Message
}

var retryableMarkers = []string{"rate limit", "resource exhausted", "quota"}

// IsRetryable reports whether the failure is transient capacity exhaustion
// (rate limit, quota, overload).
func IsRetryable(e ProviderError) bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable {
		return true
	}
	switch strings.TrimSpace(e.Code) {
	case "429", "503":
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// AsProviderError extracts status, code and message from err.
// It understands *ProviderError, Google API errors and falls back to err.Error().
func AsProviderError(err error) ProviderError {
	if err == nil {
		return ProviderError{}
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return *pe
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		out := ProviderError{Message: apiErr.Error()}
		if c := apiErr.HTTPCode(); c > 0 {
			out.StatusCode = c
		}
		if st := apiErr.GRPCStatus(); st != nil {
			out.Code = st.Code().String()
			switch st.Code() {
			case codes.ResourceExhausted:
				if out.StatusCode == 0 {
					out.StatusCode = http.StatusTooManyRequests
				}
			case codes.Unavailable:
				if out.StatusCode == 0 {
					out.StatusCode = http.StatusServiceUnavailable
				}
			}
		}
		return out
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return ProviderError{
			StatusCode: gErr.Code,
			Code:       strconv.Itoa(gErr.Code),
			Message:    gErr.Error(),
		}
	}

	return ProviderError{Message: err.Error()}
}
