// Package inbox is a terminal front end for the sync layer: the conversation
// list on the left, the open thread and a composer on the right.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/syncer"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

type pane int

const (
	paneList pane = iota
	paneThread
	paneComposer
)

const writeTimeout = 10 * time.Second

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	borderStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
	focusedStyle = borderStyle.BorderForeground(lipgloss.Color("12"))
)

// cacheChangedMsg means a query key changed in the sync cache.
type cacheChangedMsg struct{ key string }

type openedMsg struct {
	id  uuid.UUID
	err error
}

type sentMsg struct{ err error }

type convItem struct {
	summary *models.ConversationSummary
}

func (i convItem) Title() string {
	name := models.UnknownUserName
	if p := i.summary.OtherParticipant; p != nil && p.DisplayName != "" {
		name = p.DisplayName
	}
	if i.summary.UnreadCount > 0 {
		return fmt.Sprintf("%s (%d)", name, i.summary.UnreadCount)
	}
	return name
}

func (i convItem) Description() string {
	if i.summary.LastMessage == nil {
		return "No messages yet"
	}
	return i.summary.LastMessage.Content
}

func (i convItem) FilterValue() string { return i.Title() }

// Model is the root bubbletea model.
type Model struct {
	inbox    *syncer.Inbox
	viewerID uuid.UUID
	changes  <-chan string
	unsub    func()

	width  int
	height int
	focus  pane

	list     list.Model
	thread   viewport.Model
	composer textinput.Model

	status string
	err    error
}

// New builds the model. The caller starts the conversation poller; the model
// unsubscribes from the cache on quit.
func New(in *syncer.Inbox, viewerID uuid.UUID) *Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Messages"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	ti := textinput.New()
	ti.Placeholder = "Write a message"
	ti.CharLimit = models.MaxMessageLength

	changes, unsub := in.Cache.Subscribe(32)
	return &Model{
		inbox:    in,
		viewerID: viewerID,
		changes:  changes,
		unsub:    unsub,
		list:     l,
		thread:   viewport.New(0, 0),
		composer: ti,
	}
}

func (m *Model) Init() tea.Cmd {
	return m.waitForChange()
}

func (m *Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		key, ok := <-changes
		if !ok {
			return nil
		}
		return cacheChangedMsg{key: key}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.FocusMsg:
		m.inbox.Resume()
		return m, nil

	case tea.BlurMsg:
		m.inbox.Pause()
		return m, nil

	case cacheChangedMsg:
		m.refresh(msg.key)
		return m, m.waitForChange()

	case openedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.renderThread()
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.composer.Reset()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.unsub()
		return m, tea.Quit
	}
	m.err = nil

	// Typing counts as activity for whichever query the user is looking at.
	if m.focus == paneList {
		m.inbox.Conversations.MarkActive()
	} else {
		m.inbox.Thread.MarkActive()
	}

	switch msg.String() {
	case "tab":
		m.cycleFocus()
		return m, nil
	case "esc":
		if m.focus != paneList {
			m.inbox.Thread.Close()
			m.setFocus(paneList)
			m.renderThread()
			return m, nil
		}
	}

	switch m.focus {
	case paneList:
		if msg.String() == "q" {
			m.unsub()
			return m, tea.Quit
		}
		if msg.String() == "enter" {
			item, ok := m.list.SelectedItem().(convItem)
			if !ok {
				return m, nil
			}
			m.setFocus(paneComposer)
			return m, m.open(item.summary.ID)
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd

	case paneThread:
		var cmd tea.Cmd
		m.thread, cmd = m.thread.Update(msg)
		return m, cmd

	case paneComposer:
		if msg.String() == "enter" {
			return m, m.send()
		}
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) open(id uuid.UUID) tea.Cmd {
	in := m.inbox
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return openedMsg{id: id, err: in.Thread.Open(ctx, id)}
	}
}

func (m *Model) send() tea.Cmd {
	id := m.inbox.Thread.ConversationID()
	content := m.composer.Value()
	if id == uuid.Nil {
		return nil
	}
	messenger := m.inbox.Messenger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_, err := messenger.Send(ctx, id, content)
		return sentMsg{err: err}
	}
}

func (m *Model) refresh(key string) {
	if key == models.ConversationsQueryKey {
		snap := m.inbox.Conversations.Snapshot()
		items := make([]list.Item, 0, len(snap.Conversations))
		for _, c := range snap.Conversations {
			items = append(items, convItem{summary: c})
		}
		m.list.SetItems(items)
		m.status = statusLine("inbox", snap.Snapshot)
		return
	}
	if id, ok := models.ParseMessagesQueryKey(key); ok && id == m.inbox.Thread.ConversationID() {
		m.renderThread()
	}
}

func (m *Model) renderThread() {
	t := m.inbox.Thread.Snapshot()
	if !t.Open() {
		m.thread.SetContent(mutedStyle.Render("Select a conversation and press enter."))
		return
	}
	var b strings.Builder
	for _, msg := range t.Messages {
		name := msg.SenderName
		if msg.SenderID == m.viewerID {
			name = mineStyle.Render("You")
		}
		stamp := mutedStyle.Render(msg.CreatedAt.Local().Format("Jan 2 15:04"))
		receipt := ""
		if msg.SenderID == m.viewerID && msg.IsRead() {
			receipt = mutedStyle.Render(" ✓ read")
		}
		fmt.Fprintf(&b, "%s %s%s\n%s\n\n", titleStyle.Render(name), stamp, receipt, msg.Content)
	}
	if len(t.Messages) == 0 && t.HasValue {
		b.WriteString(mutedStyle.Render("No messages yet. Say hello."))
	}
	m.thread.SetContent(b.String())
	m.thread.GotoBottom()
	m.status = statusLine("thread", t.Snapshot)
}

func statusLine(what string, s syncer.Snapshot) string {
	switch s.Status {
	case syncer.StatusPaused:
		return what + " paused"
	case syncer.StatusPolling:
		return what + " refreshing"
	case syncer.StatusError:
		return fmt.Sprintf("%s: %v (retry in %s)", what, s.Err, s.Interval.Round(time.Second))
	}
	if s.Stale {
		return what + " out of date"
	}
	return ""
}

func (m *Model) cycleFocus() {
	next := (m.focus + 1) % 3
	if next != paneList && !m.inbox.Thread.Snapshot().Open() {
		next = paneList
	}
	m.setFocus(next)
}

func (m *Model) setFocus(p pane) {
	m.focus = p
	if p == paneComposer {
		m.composer.Focus()
	} else {
		m.composer.Blur()
	}
}

func (m *Model) setSize(w, h int) {
	m.width, m.height = w, h
	listWidth := w / 3
	m.list.SetSize(listWidth-2, h-3)
	m.thread.Width = w - listWidth - 4
	m.thread.Height = h - 7
	m.composer.Width = w - listWidth - 8
}

func (m *Model) View() string {
	left, right := borderStyle, borderStyle
	if m.focus == paneList {
		left = focusedStyle
	} else {
		right = focusedStyle
	}

	threadView := m.thread.View() + "\n" + m.composer.View()
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		left.Render(m.list.View()),
		right.Render(threadView),
	)

	footer := mutedStyle.Render("tab: switch pane  enter: open/send  esc: close thread  q: quit")
	if m.err != nil {
		footer = errStyle.Render(describe(m.err))
	} else if m.status != "" {
		footer = mutedStyle.Render(m.status)
	}
	return body + "\n" + footer
}

func describe(err error) string {
	var rl *messaging.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Sprintf("Slow down, you can send again in %ds.", rl.RetryAfterSeconds())
	}
	return err.Error()
}
