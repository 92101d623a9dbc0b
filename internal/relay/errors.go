package relay

// FallbackReply is the only text a client ever sees for an upstream failure.
const FallbackReply = "Sorry, something went wrong."

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAttachment ErrorKind = "attachment"
	KindUpstream   ErrorKind = "upstream"
	KindTimeout    ErrorKind = "timeout"
)

// Error is returned by Service.Handle. Error() is always safe to show to a
// client; Cause carries the diagnostic detail.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
	// TooLarge distinguishes a size violation from a type violation for
	// KindAttachment.
	TooLarge bool
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// IsUpstream reports whether the error belongs to the upstream family, which
// includes timeouts.
func (e *Error) IsUpstream() bool {
	return e.Kind == KindUpstream || e.Kind == KindTimeout
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
