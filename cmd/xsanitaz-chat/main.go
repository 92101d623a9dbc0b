package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"xsanitaz-backend/internal/chatclient"
	"xsanitaz-backend/internal/tui"
)

func main() {
	relayURL := flag.String("relay", chatclient.BaseURLFromEnv(), "relay base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "per-message timeout")
	flag.Parse()

	ctrl := chatclient.NewController(chatclient.NewHTTPRelay(*relayURL))
	defer ctrl.Close()

	p := tea.NewProgram(tui.New(ctrl, *timeout), tea.WithAltScreen())
	// OnChange can fire inside Update; p.Send would block the event loop there.
	ctrl.OnChange(func() { go p.Send(tui.TranscriptChangedMsg{}) })

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "xsanitaz-chat: %v\n", err)
		os.Exit(1)
	}
}
