// Package relay turns one client message into one display-ready reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"xsanitaz-backend/internal/observability"
	"xsanitaz-backend/internal/provider"
	"xsanitaz-backend/internal/store"
)

// AttachmentAck is the reply for an attachment sent without any text. The
// attachment itself is not forwarded to the provider.
const AttachmentAck = "Thanks for sharing that with me. I've received your file."

type Request struct {
	Message    string
	SessionID  string
	Attachment *Attachment
}

type Reply struct {
	Text       string
	SessionID  string
	Attachment *Receipt
}

// FailureRecorder receives upstream failures for diagnostics.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f store.Failure) error
}

type Options struct {
	Timeout          time.Duration
	DefaultSessionID string
	Attachments      AttachmentPolicy
	Recorder         FailureRecorder
}

// Service is immutable after NewService and safe for concurrent use.
type Service struct {
	detector provider.Detector
	opts     Options
}

func NewService(detector provider.Detector, opts Options) *Service {
	if opts.DefaultSessionID == "" {
		opts.DefaultSessionID = "default"
	}
	return &Service{detector: detector, opts: opts}
}

func (s *Service) ProviderName() string { return s.detector.Name() }

// Handle validates req, calls the provider at most once and returns either a
// Reply or an *Error.
func (s *Service) Handle(ctx context.Context, req Request) (Reply, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" && req.Attachment == nil {
		return Reply{}, validationError("message is required")
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.opts.DefaultSessionID
	}
	reply := Reply{SessionID: sessionID}

	if req.Attachment != nil {
		mimeType := resolveMIMEType(req.Attachment)
		if err := s.opts.Attachments.check(req.Attachment, mimeType); err != nil {
			return Reply{}, err
		}
		reply.Attachment = receiptFor(req.Attachment, mimeType)
		if text == "" {
			reply.Text = AttachmentAck
			return reply, nil
		}
	}

	res := s.detect(ctx, provider.Input{Text: req.Message, SessionID: sessionID})
	switch r := res.(type) {
	case provider.Success:
		reply.Text = r.Text
		return reply, nil
	case provider.Failure:
		return Reply{}, s.fail(ctx, sessionID, r.Cause)
	default:
		return Reply{}, s.fail(ctx, sessionID, fmt.Errorf("unexpected provider result %T", res))
	}
}

func (s *Service) detect(ctx context.Context, in provider.Input) provider.Result {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	res := s.detector.Detect(ctx, in)
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res
	}
	// Past the deadline every outcome is a timeout, even a late success.
	if f, ok := res.(provider.Failure); ok {
		if provider.IsTimeout(f.Cause) {
			return res
		}
		return provider.Fail(errors.Join(ctx.Err(), f.Cause))
	}
	return provider.Fail(fmt.Errorf("%s: %w", s.detector.Name(), ctx.Err()))
}

func (s *Service) fail(ctx context.Context, sessionID string, cause error) *Error {
	kind := KindUpstream
	if provider.IsTimeout(cause) {
		kind = KindTimeout
	}
	e := &Error{Kind: kind, Message: FallbackReply, Cause: cause}

	logger := observability.LoggerFromContext(ctx)
	logger.Error("provider call failed",
		"provider", s.detector.Name(),
		"kind", string(kind),
		"session_id", sessionID,
		"error", cause,
	)
	if s.opts.Recorder != nil {
		f := store.Failure{
			RequestID: requestIDFrom(ctx),
			SessionID: sessionID,
			Provider:  s.detector.Name(),
			Kind:      string(kind),
			Cause:     cause.Error(),
		}
		// Recording must not depend on the request context, which may already
		// be past its deadline.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.opts.Recorder.RecordFailure(rctx, f); err != nil {
			logger.Warn("recording relay failure", "error", err)
		}
	}
	return e
}

func requestIDFrom(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
