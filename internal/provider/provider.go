// Package provider adapts third-party natural-language services to a single
// Detect contract. Exactly one Detector is built per process.
package provider

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Input is what the relay hands to a provider for one user turn.
type Input struct {
	Text      string
	SessionID string
}

// Result is either Success or Failure.
type Result interface {
	isResult()
}

type Success struct {
	Text string
}

type Failure struct {
	Cause error
}

func (Success) isResult() {}
func (Failure) isResult() {}

func Succeed(text string) Result { return Success{Text: text} }

func Fail(err error) Result {
	if err == nil {
		err = errors.New("provider failed without a cause")
	}
	return Failure{Cause: err}
}

// Detector performs exactly one upstream call per Detect and never retries.
// Implementations are immutable after construction and safe for concurrent use.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) Result
}

// IsTimeout reports whether err came from an exceeded deadline, either
// locally or as reported by a gRPC upstream.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.DeadlineExceeded {
		return true
	}
	return false
}
