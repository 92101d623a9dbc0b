// Package chatclient holds the client side of a chat session: the transcript,
// the pending state and the HTTP client for the relay.
package chatclient

import "time"

type Sender string

const (
	User      Sender = "user"
	Assistant Sender = "assistant"
)

// AttachmentRef is a local reference to a file the user sent. URI never leaves
// the client.
type AttachmentRef struct {
	URI      string
	Name     string
	MIMEType string
}

// Message carries Text, an Attachment, or both.
type Message struct {
	Sender     Sender
	Text       string
	Attachment *AttachmentRef
	At         time.Time
}

// Transcript is an append-only list of messages.
type Transcript struct {
	messages []Message
}

func (t *Transcript) append(m Message) {
	t.messages = append(t.messages, m)
}

func (t *Transcript) Len() int { return len(t.messages) }

// Messages returns a copy of the transcript in arrival order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}
