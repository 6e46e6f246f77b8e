package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transcript-chat/internal/conversation"
	"transcript-chat/internal/domain"
)

const msgBusy = "Waiting for the current answer"

const helpText = "enter: ask  /load <file.srt>  /youtube <url>  /transcript  /reset  /quit"

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle      = lipgloss.NewStyle().Faint(true)
	inputStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// stateMsg carries a session snapshot into the program loop.
type stateMsg conversation.State

type statusMsg string

// model never touches the session from Update: every session call runs in a
// tea.Cmd so the observer can Send without deadlocking the loop.
type model struct {
	ctx     context.Context
	session *conversation.Session
	fetcher transcriptFetcher

	state  conversation.State
	input  string
	status string
	width  int
}

func newModel(ctx context.Context, session *conversation.Session, fetcher transcriptFetcher) model {
	return model{ctx: ctx, session: session, fetcher: fetcher, width: 80}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = conversation.State(msg)
	case statusMsg:
		m.status = string(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		line := m.input
		m.input = ""
		return m.run(parseCommand(line))
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func (m model) run(c command) (tea.Model, tea.Cmd) {
	m.status = ""
	switch c.kind {
	case cmdQuestion:
		if c.arg == "" {
			return m, nil
		}
		if m.state.InFlight {
			m.input = c.arg
			m.status = msgBusy
			return m, nil
		}
		return m, m.submit(c.arg)
	case cmdLoad:
		m.status = "Loading " + c.arg
		return m, m.load(c.arg)
	case cmdYouTube:
		m.status = "Fetching transcript"
		return m, m.fetch(c.arg)
	case cmdShowTranscript:
		if m.state.Transcript == "" {
			m.status = "No transcript loaded"
		} else {
			m.status = "Transcript: " + m.state.Transcript
		}
	case cmdReset:
		if m.state.InFlight {
			m.status = "Cannot reset while an answer is streaming"
			return m, nil
		}
		return m, m.dispatch(conversation.Reset{}, "Conversation cleared")
	case cmdQuit:
		return m, tea.Quit
	case cmdHelp:
		m.status = helpText
	case cmdUnknown:
		m.status = "Unknown command " + c.arg
	}
	return m, nil
}

func (m model) submit(text string) tea.Cmd {
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		if !session.Submit(ctx, text) {
			return statusMsg(msgBusy)
		}
		return stateMsg(session.State())
	}
}

func (m model) dispatch(a conversation.Action, status string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		session.Dispatch(a)
		return statusMsg(status)
	}
}

func (m model) load(path string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		text, err := readSRT(path)
		if err != nil {
			return statusMsg("Failed to load transcript: " + err.Error())
		}
		session.Dispatch(conversation.SetTranscript{Text: text})
		return statusMsg(fmt.Sprintf("Loaded %s (%d characters)", path, len(text)))
	}
}

func (m model) fetch(rawURL string) tea.Cmd {
	session, fetcher, ctx := m.session, m.fetcher, m.ctx
	return func() tea.Msg {
		text, err := fetchYouTube(ctx, fetcher, rawURL)
		if err != nil {
			return statusMsg("Failed to fetch transcript: " + err.Error())
		}
		session.Dispatch(conversation.SetTranscript{Text: text})
		return statusMsg(fmt.Sprintf("Fetched transcript (%d characters)", len(text)))
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("transcript-chat"))
	b.WriteString("  ")
	if m.state.Transcript == "" {
		b.WriteString(helpStyle.Render("no transcript loaded"))
	} else {
		b.WriteString(helpStyle.Render(fmt.Sprintf("transcript: %d characters", len(m.state.Transcript))))
	}
	b.WriteString("\n\n")

	body := lipgloss.NewStyle().Width(max(m.width-2, 20))
	for _, msg := range m.state.Messages {
		b.WriteString(roleLabel(msg.Role))
		b.WriteString("\n")
		content := msg.Content
		if content == "" && msg.Role == domain.RoleAssistant && m.state.InFlight {
			content = "..."
		}
		b.WriteString(body.Render(content))
		b.WriteString("\n\n")
	}

	b.WriteString(inputStyle.Width(max(m.width-4, 20)).Render("> " + m.input))
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(helpText))
	b.WriteString("\n")
	return b.String()
}

func roleLabel(role string) string {
	if role == domain.RoleUser {
		return userStyle.Render("You")
	}
	return assistantStyle.Render("Assistant")
}
