package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/Warpmeet/cli/internal/chat"
)

// Room is what the chat screen drives. *room.Session implements it.
type Room interface {
	RoomID() string
	ParticipantID() string
	Send(text string) (bool, error)
	SetAudio(ctx context.Context, enabled bool) error
	SetVideo(ctx context.Context, enabled bool) error
	MediaState() chat.MediaState
}

// ChatUpdateType tags a ChatUpdate.
type ChatUpdateType int

const (
	UpdateMessage ChatUpdateType = iota
	UpdateLink
	UpdatePeerMedia
	UpdateStatus
	UpdateClosed
)

// ChatUpdate is pushed from session callbacks into the chat screen.
type ChatUpdate struct {
	Type    ChatUpdateType
	Message chat.Message
	Remote  string
	Link    string
	Media   chat.MediaState
	Status  string
	Err     error
}

type sentMsg struct {
	delivered bool
	err       error
}

type toggleMsg struct {
	what string
	err  error
}

type peerView struct {
	link     string
	media    chat.MediaState
	hasMedia bool
}

const (
	chromeHeight  = 7
	toggleTimeout = 10 * time.Second
)

// ChatModel is the bubbletea model of the room screen.
type ChatModel struct {
	room     Room
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	lines  []string
	peers  map[string]*peerView
	status string
	err    error

	width int

	sent     int
	received int
	seen     map[string]struct{}

	updates chan ChatUpdate
	done    chan struct{}
	once    sync.Once
}

// NewChatModel creates the chat screen for r.
func NewChatModel(r Room) *ChatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Prompt = IconChat + " "
	ti.CharLimit = chat.DefaultMaxLength
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &ChatModel{
		room:     r,
		input:    ti,
		viewport: viewport.New(80, 24-chromeHeight),
		spinner:  s,
		peers:    make(map[string]*peerView),
		seen:     make(map[string]struct{}),
		width:    80,
		updates:  make(chan ChatUpdate, 256),
		done:     make(chan struct{}),
	}
}

// Push queues u for the screen. It blocks while the queue is full and
// returns once the screen has stopped.
func (m *ChatModel) Push(u ChatUpdate) {
	select {
	case m.updates <- u:
	case <-m.done:
	}
}

// Stop releases pending Push calls.
func (m *ChatModel) Stop() {
	m.once.Do(func() { close(m.done) })
}

// Err is the reason the screen closed on its own, if any.
func (m *ChatModel) Err() error { return m.err }

// Summary reports message counts for the session summary table.
func (m *ChatModel) Summary() (sent, received, peers int) {
	return m.sent, m.received, len(m.seen)
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdates())
}

func (m *ChatModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-m.updates:
			return u
		case <-m.done:
			return nil
		}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(3, msg.Height-chromeHeight)
		m.input.Width = max(10, msg.Width-8)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ChatUpdate:
		if m.apply(msg) {
			return m, tea.Quit
		}
		return m, m.waitForUpdates()

	case sentMsg:
		switch {
		case msg.err != nil:
			m.status = ErrorStyle.Render(msg.err.Error())
		case !msg.delivered:
			m.status = "No peer received that yet"
		default:
			m.status = ""
		}
		return m, nil

	case toggleMsg:
		if msg.err != nil {
			m.status = ErrorStyle.Render(fmt.Sprintf("%s failed: %v", msg.what, msg.err))
		} else {
			m.status = msg.what
		}
		return m, nil
	}
	return m, nil
}

// submit handles the input line: a command or a chat message.
func (m *ChatModel) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		r := m.room
		return func() tea.Msg {
			delivered, err := r.Send(line)
			return sentMsg{delivered: delivered, err: err}
		}
	}

	cmd, err := parseCommand(line)
	if err != nil {
		m.status = ErrorStyle.Render(err.Error())
		return nil
	}
	switch cmd.name {
	case "quit":
		return tea.Quit
	case "help":
		m.system("Commands: /mute, /unmute, /video on|off, /peers, /quit")
		return nil
	case "peers":
		m.system(m.peerSummary())
		return nil
	case "audio":
		return m.toggle("audio", cmd.enabled, m.room.SetAudio)
	case "video":
		return m.toggle("video", cmd.enabled, m.room.SetVideo)
	}
	return nil
}

func (m *ChatModel) toggle(what string, enabled bool, fn func(context.Context, bool) error) tea.Cmd {
	word := "off"
	if enabled {
		word = "on"
	}
	label := fmt.Sprintf("%s %s", what, word)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), toggleTimeout)
		defer cancel()
		return toggleMsg{what: label, err: fn(ctx, enabled)}
	}
}

type command struct {
	name    string
	enabled bool
}

var errUnknownCommand = errors.New("unknown command, try /help")

func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return command{}, errUnknownCommand
	}
	switch strings.ToLower(fields[0]) {
	case "mute":
		return command{name: "audio", enabled: false}, nil
	case "unmute":
		return command{name: "audio", enabled: true}, nil
	case "video":
		if len(fields) != 2 {
			return command{}, errors.New("usage: /video on|off")
		}
		switch strings.ToLower(fields[1]) {
		case "on":
			return command{name: "video", enabled: true}, nil
		case "off":
			return command{name: "video", enabled: false}, nil
		}
		return command{}, errors.New("usage: /video on|off")
	case "peers":
		return command{name: "peers"}, nil
	case "help":
		return command{name: "help"}, nil
	case "quit", "exit", "leave":
		return command{name: "quit"}, nil
	}
	return command{}, errUnknownCommand
}

// apply folds one update into the model and reports whether the screen
// should close.
func (m *ChatModel) apply(u ChatUpdate) bool {
	switch u.Type {
	case UpdateMessage:
		if u.Message.IsOwn {
			m.sent++
		} else {
			m.received++
		}
		m.lines = append(m.lines, m.formatMessage(u.Message))
		m.refresh()

	case UpdateLink:
		p := m.peer(u.Remote)
		p.link = u.Link
		m.seen[u.Remote] = struct{}{}
		switch u.Link {
		case "established":
			m.system(fmt.Sprintf("%s connected", u.Remote))
		case "closed":
			delete(m.peers, u.Remote)
			m.system(fmt.Sprintf("%s left", u.Remote))
		}

	case UpdatePeerMedia:
		p := m.peer(u.Remote)
		p.media = u.Media
		p.hasMedia = true

	case UpdateStatus:
		m.status = u.Status

	case UpdateClosed:
		m.err = u.Err
		return true
	}
	return false
}

func (m *ChatModel) peer(id string) *peerView {
	p, ok := m.peers[id]
	if !ok {
		p = &peerView{link: "connecting"}
		m.peers[id] = p
	}
	return p
}

func (m *ChatModel) system(text string) {
	m.lines = append(m.lines, SystemStyle.Render("* "+text))
	m.refresh()
}

func (m *ChatModel) formatMessage(msg chat.Message) string {
	name := PeerNameStyle.Render(msg.SenderName)
	if msg.IsOwn {
		name = OwnNameStyle.Render(msg.SenderName)
	}
	return fmt.Sprintf("%s %s: %s", TimeStyle.Render(msg.Timestamp.Format("15:04")), name, msg.Text)
}

func (m *ChatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(10, m.width-2))
	rendered := make([]string, len(m.lines))
	for i, l := range m.lines {
		rendered[i] = wrap.Render(l)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	m.viewport.GotoBottom()
}

func (m *ChatModel) sortedPeers() []string {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *ChatModel) peerSummary() string {
	ids := m.sortedPeers()
	if len(ids) == 0 {
		return "No peers yet"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s (%s)", id, m.peers[id].link)
	}
	return "Peers: " + strings.Join(parts, ", ")
}

func (m *ChatModel) View() string {
	var b strings.Builder

	st := m.room.MediaState()
	header := fmt.Sprintf("%s %s  %s %s  %s", IconRoom, m.room.RoomID(), IconPeer, m.room.ParticipantID(), MediaIcons(st.Audio, st.Video))
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	ids := m.sortedPeers()
	if len(ids) == 0 {
		b.WriteString(m.spinner.View() + " " + MutedStyle.Render("Waiting for peers..."))
	} else {
		parts := make([]string, len(ids))
		for i, id := range ids {
			p := m.peers[id]
			entry := fmt.Sprintf("%s %s", id, MutedStyle.Render(p.link))
			if p.hasMedia {
				entry += " " + MediaIcons(p.media.Audio, p.media.Video)
			}
			parts[i] = entry
		}
		b.WriteString(strings.Join(parts, "  "))
	}
	b.WriteString("\n")
	b.WriteString(InputStyle.Render(m.input.View()))
	b.WriteString("\n")

	footer := "enter send • /help commands • esc leave"
	if m.status != "" {
		footer = m.status
	}
	b.WriteString(FooterStyle.Render(footer))
	return b.String()
}

// RunChat runs the chat screen until the user leaves, ctx ends or the
// model closes itself.
func RunChat(ctx context.Context, m *ChatModel) error {
	defer m.Stop()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return m.err
}
