// Package tui renders a chatclient.Controller as a terminal chat.
package tui

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"xsanitaz-backend/internal/chatclient"
)

const fileCommand = "/file "

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	attachStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	inputBox       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// TranscriptChangedMsg tells the model to redraw after the controller changed.
type TranscriptChangedMsg struct{}

type sendDoneMsg struct{}

type statusMsg struct {
	text    string
	isError bool
}

type Model struct {
	ctrl     *chatclient.Controller
	timeout  time.Duration
	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	ready    bool
	status   statusMsg
	width    int
}

func New(ctrl *chatclient.Controller, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Placeholder = "Share what's on your mind, or /file <path>"
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctrl:     ctrl,
		timeout:  timeout,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		width:    80,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.ctrl.Close()
			return m, tea.Quit
		case tea.KeyCtrlY:
			return m, m.copyLastReply()
		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		inputHeight := 3
		headerHeight := 2
		footerHeight := 1
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-headerHeight-footerHeight-inputHeight)
		m.input.Width = max(10, msg.Width-6)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(20, msg.Width-4)),
		)
		m.ready = true
		m.refresh()

	case TranscriptChangedMsg:
		m.refresh()

	case sendDoneMsg:
		m.refresh()

	case statusMsg:
		m.status = msg

	case spinner.TickMsg:
		if !m.ctrl.Pending() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	raw := m.input.Value()
	if strings.TrimSpace(raw) == "" {
		return m, nil
	}
	m.input.Reset()
	m.status = statusMsg{}

	var (
		call *chatclient.Call
		err  error
	)
	if strings.HasPrefix(raw, fileCommand) {
		path := strings.TrimSpace(strings.TrimPrefix(raw, fileCommand))
		f, rerr := readFile(path)
		if rerr != nil {
			m.status = statusMsg{text: rerr.Error(), isError: true}
			return m, nil
		}
		call, err = m.ctrl.SubmitAttachment(f, "")
	} else {
		call, err = m.ctrl.Submit(raw)
	}
	if err != nil {
		m.status = statusMsg{text: err.Error(), isError: true}
		return m, nil
	}
	// Submit has already entered Awaiting, so the first tick is not dropped.
	m.refresh()
	return m, tea.Batch(m.deliver(call), m.spinner.Tick)
}

func (m Model) deliver(call *chatclient.Call) tea.Cmd {
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		call.Run(ctx)
		return sendDoneMsg{}
	}
}

func (m Model) copyLastReply() tea.Cmd {
	msgs := m.ctrl.Messages()
	var last string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == chatclient.Assistant {
			last = msgs[i].Text
			break
		}
	}
	if last == "" {
		return nil
	}
	return func() tea.Msg {
		if err := clipboard.WriteAll(last); err != nil {
			return statusMsg{text: "Copy failed: " + err.Error(), isError: true}
		}
		return statusMsg{text: "Copied last reply"}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	var b strings.Builder
	for _, msg := range m.ctrl.Messages() {
		switch msg.Sender {
		case chatclient.User:
			b.WriteString(userStyle.Render("You"))
		default:
			b.WriteString(assistantStyle.Render("XSanitaz"))
		}
		b.WriteString("\n")
		if msg.Attachment != nil {
			b.WriteString(attachStyle.Render(fmt.Sprintf("[%s · %s]", msg.Attachment.Name, msg.Attachment.MIMEType)))
			b.WriteString("\n")
		}
		if msg.Text != "" {
			b.WriteString(m.renderText(msg))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderText(msg chatclient.Message) string {
	if msg.Sender != chatclient.Assistant || m.renderer == nil {
		return msg.Text
	}
	out, err := m.renderer.Render(msg.Text)
	if err != nil {
		return msg.Text
	}
	return strings.TrimRight(out, "\n")
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("XSanitaz"))
	b.WriteString("\n\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.renderTranscript())
	}
	b.WriteString("\n")

	switch {
	case m.ctrl.Pending():
		b.WriteString(statusStyle.Render(m.spinner.View() + " XSanitaz is typing..."))
	case m.status.isError:
		b.WriteString(errorStyle.Render(m.status.text))
	case m.status.text != "":
		b.WriteString(statusStyle.Render(m.status.text))
	default:
		b.WriteString(statusStyle.Render("enter send · /file <path> attach · ctrl+y copy reply · esc quit"))
	}
	b.WriteString("\n")
	b.WriteString(inputBox.Render(m.input.View()))
	return b.String()
}

func readFile(path string) (chatclient.File, error) {
	if path == "" {
		return chatclient.File{}, fmt.Errorf("usage: /file <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return chatclient.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return chatclient.File{
		Name:     filepath.Base(path),
		MIMEType: mimeType,
		Data:     data,
		URI:      "file://" + abs,
	}, nil
}
