package provider

import (
	"context"
	"fmt"
)

// EchoDetector answers locally without any network call. Used for offline
// development of the chat client.
type EchoDetector struct{}

func NewEchoDetector() *EchoDetector {
	return &EchoDetector{}
}

func (EchoDetector) Name() string { return "echo" }

func (EchoDetector) Detect(ctx context.Context, in Input) Result {
	if err := ctx.Err(); err != nil {
		return Fail(err)
	}
	return Succeed(fmt.Sprintf("I hear you. You said %q. Tell me a bit more about how that feels.", in.Text))
}
