package chatclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FallbackText replaces any failed or timed out reply.
const FallbackText = "Sorry, something went wrong."

var (
	ErrBlankInput = errors.New("chatclient: message is blank")
	ErrClosed     = errors.New("chatclient: controller is closed")
	ErrNoFile     = errors.New("chatclient: attachment has no data")
	errAbandoned  = errors.New("chatclient: call did not complete")
)

type State int

const (
	Idle State = iota
	Awaiting
)

func (s State) String() string {
	if s == Awaiting {
		return "awaiting"
	}
	return "idle"
}

// File is an attachment picked by the user.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	// URI is the local preview reference, e.g. the path the file was read from.
	URI string
}

// Relay delivers one message and returns the reply text.
type Relay interface {
	Send(ctx context.Context, sessionID, text string) (string, error)
	SendAttachment(ctx context.Context, sessionID, text string, f File) (string, error)
}

// Controller owns one transcript. Sends may overlap; assistant messages are
// appended in the order their calls resolve.
type Controller struct {
	relay     Relay
	sessionID string
	now       func() time.Time

	mu         sync.Mutex
	transcript Transcript
	inflight   int
	closed     bool
	onChange   func()
}

func NewController(relay Relay) *Controller {
	return &Controller{
		relay:     relay,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

func (c *Controller) SessionID() string { return c.sessionID }

// OnChange registers fn to run after every transcript or state change. fn is
// called without the controller lock held.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		return Awaiting
	}
	return Idle
}

// Pending drives the typing indicator.
func (c *Controller) Pending() bool { return c.State() == Awaiting }

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Messages()
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Len()
}

// Call is one outstanding send. Exactly one Resolve takes effect.
type Call struct {
	c    *Controller
	text string
	file *File
	once sync.Once
}

// Submit appends the user's message and enters Awaiting. The caller must
// Run or Resolve the returned call.
func (c *Controller) Submit(text string) (*Call, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankInput
	}
	return c.begin(Message{Sender: User, Text: text}, text, nil)
}

// SubmitAttachment is Submit for a file, with optional accompanying text.
func (c *Controller) SubmitAttachment(f File, text string) (*Call, error) {
	if len(f.Data) == 0 {
		return nil, ErrNoFile
	}
	ref := &AttachmentRef{URI: f.URI, Name: f.Name, MIMEType: f.MIMEType}
	if ref.URI == "" {
		ref.URI = "local:" + uuid.NewString()
	}
	return c.begin(Message{Sender: User, Text: strings.TrimSpace(text), Attachment: ref}, text, &f)
}

func (c *Controller) begin(m Message, text string, f *File) (*Call, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	m.At = c.now()
	c.transcript.append(m)
	c.inflight++
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return &Call{c: c, text: text, file: f}, nil
}

// Run delivers the submitted message through the relay and resolves the call
// on every path, including a panicking relay.
func (call *Call) Run(ctx context.Context) {
	c := call.c
	reply, err := "", errAbandoned
	defer func() { call.Resolve(reply, err) }()

	if call.file != nil {
		reply, err = c.relay.SendAttachment(ctx, c.sessionID, call.text, *call.file)
		return
	}
	reply, err = c.relay.Send(ctx, c.sessionID, call.text)
}

// Resolve appends the assistant reply, or FallbackText when err is non-nil,
// and leaves Awaiting once no other call is in flight. After Close it does
// nothing.
func (call *Call) Resolve(reply string, err error) {
	call.once.Do(func() {
		c := call.c
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		text := reply
		if err != nil || strings.TrimSpace(reply) == "" {
			text = FallbackText
		}
		c.transcript.append(Message{Sender: Assistant, Text: text, At: c.now()})
		c.inflight--
		notify := c.onChange
		c.mu.Unlock()

		if notify != nil {
			notify()
		}
	})
}

// Send runs one full cycle for a text message. The returned error is only
// ever ErrBlankInput or ErrClosed; relay failures end up in the transcript.
func (c *Controller) Send(ctx context.Context, text string) error {
	call, err := c.Submit(text)
	if err != nil {
		return err
	}
	call.Run(ctx)
	return nil
}

func (c *Controller) SendAttachment(ctx context.Context, f File, text string) error {
	call, err := c.SubmitAttachment(f, text)
	if err != nil {
		return err
	}
	call.Run(ctx)
	return nil
}

// Close detaches the controller from any call still in flight. The
// transcript is frozen from here on.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.inflight = 0
	c.onChange = nil
	c.mu.Unlock()
}
