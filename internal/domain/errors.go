package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing or invalid settings. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrRateLimited is surfaced after the retry budget for rate-limit responses is spent.
	ErrRateLimited = errors.New("inference service rate limited")
	// ErrNetwork marks transport failures reaching the inference service.
	ErrNetwork = errors.New("network error")
	// ErrMalformedResponse marks a response that does not match the expected schema.
	ErrMalformedResponse = errors.New("malformed inference response")
	// ErrProcessing marks any other inference failure.
	ErrProcessing = errors.New("processing failed")
	// ErrPrecondition marks a caller-side logic error such as finishing an incomplete job.
	ErrPrecondition = errors.New("precondition violation")
	// ErrCategoryBusy is returned while a call for the same category is in flight.
	ErrCategoryBusy = fmt.Errorf("%w: category is processing", ErrPrecondition)
	ErrNoteNotFound    = errors.New("note not found")
	ErrUnknownCategory = errors.New("unknown category")
)

// ErrorKind classifies errors for display.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindRateLimited
	KindNetwork
	KindMalformedResponse
	KindProcessing
	KindPrecondition
	KindNotFound
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindMalformedResponse:
		return "malformed_response"
	case KindProcessing:
		return "processing"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of the first taxonomy sentinel found in err's chain.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, ErrNoteNotFound), errors.Is(err, ErrUnknownCategory):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrProcessing):
		return KindProcessing
	default:
		return KindUnknown
	}
}

// UserMessage turns any error into a single line fit for the field worker.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindConfiguration:
		return "The app is not configured: " + err.Error()
	case KindRateLimited:
		return "The system is busy, please try again in a moment."
	case KindNetwork:
		return "Could not reach the processing service. Check your connection and try again."
	case KindMalformedResponse:
		return "The processing service returned an unexpected answer. Please try again."
	case KindPrecondition:
		if errors.Is(err, ErrCategoryBusy) {
			return "Still processing the previous note for this category."
		}
		return "That action is not available yet: " + err.Error()
	case KindNotFound:
		return err.Error()
	case KindCanceled:
		return "The request was cancelled."
	default:
		return "Something went wrong while processing your note. Please try again."
	}
}
