// Package tui is the terminal chat screen for one document.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/legalcheck/legalcheck-client/internal/chat"
	"github.com/legalcheck/legalcheck-client/pkg/models"
)

const (
	headerHeight = 3
	footerHeight = 4
	quitTimeout  = 3 * time.Second

	statusDisconnected = "Not connected. Press ctrl+r to reconnect"
	keyHints           = "enter send · ctrl+t rename · ctrl+r reconnect · ctrl+p ping · esc quit"

	notePingSent    = "Ping sent"
	notePingSkipped = "Ping not sent: live channel is down"
)

// Store is the part of chat.Store the screen drives.
type Store interface {
	InitializeChat(ctx context.Context, documentID int64) error
	SendMessage(ctx context.Context, documentID int64, content string) error
	UpdateConversation(ctx context.Context, title string) error
	DisconnectWebSocket(ctx context.Context) error
	Ping(ctx context.Context) bool
	Snapshot() chat.State
	Subscribe(fn func(chat.State)) (cancel func())
}

// Documents fetches the document shown in the header.
type Documents interface {
	FetchDocument(ctx context.Context, documentID int64) (*models.Document, error)
}

// Options configures the chat screen.
type Options struct {
	DocumentID int64
	Store      Store
	// Documents is optional; without it the header shows the document id.
	Documents Documents
	Logger    *slog.Logger
	Context   context.Context
}

type (
	stateMsg struct{ state chat.State }

	loadedMsg struct {
		document    *models.Document
		documentErr error
		err         error
	}

	sentMsg       struct{ err error }
	titleSavedMsg struct{ err error }
	pingMsg       struct{ sent bool }
)

// subscription turns store notifications into a wake-up signal. The store
// calls push on its own goroutine, so it never blocks; bursts coalesce into
// one pending signal and the model re-reads the latest snapshot.
type subscription struct {
	dirty  chan struct{}
	done   chan struct{}
	once   sync.Once
	cancel func()
}

func (s *subscription) push(chat.State) {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	documentID int64
	store      Store
	documents  Documents
	ctx        context.Context
	logger     *slog.Logger
	sub        *subscription

	state    chat.State
	document *models.Document

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   styles

	editingTitle  bool
	draft         string
	note          string
	width, height int
	ready         bool
	quitting      bool
}

// New builds the screen and subscribes to the store.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	input := textinput.New()
	input.Placeholder = "Ask about this document"
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	sub := &subscription{dirty: make(chan struct{}, 1), done: make(chan struct{})}
	sub.cancel = opts.Store.Subscribe(sub.push)

	return Model{
		documentID: opts.DocumentID,
		store:      opts.Store,
		documents:  opts.Documents,
		ctx:        ctx,
		logger:     logger.With("component", "tui"),
		sub:        sub,
		state:      opts.Store.Snapshot(),
		input:      input,
		spinner:    sp,
		styles:     defaultStyles(),
	}
}

// Init loads the document and the conversation concurrently.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForState(), m.load(true))
}

func (m Model) waitForState() tea.Cmd {
	sub, store := m.sub, m.store
	return func() tea.Msg {
		select {
		case <-sub.done:
			return nil
		default:
		}
		select {
		case <-sub.dirty:
			return stateMsg{state: store.Snapshot()}
		case <-sub.done:
			return nil
		}
	}
}

func (m Model) load(withDocument bool) tea.Cmd {
	store, documents, id, ctx := m.store, m.documents, m.documentID, m.ctx
	return func() tea.Msg {
		var (
			g           errgroup.Group
			document    *models.Document
			documentErr error
		)
		if withDocument && documents != nil {
			g.Go(func() error {
				document, documentErr = documents.FetchDocument(ctx, id)
				return nil
			})
		}
		g.Go(func() error {
			return store.InitializeChat(ctx, id)
		})
		err := g.Wait()
		return loadedMsg{document: document, documentErr: documentErr, err: err}
	}
}

func (m Model) send(content string) tea.Cmd {
	store, id, ctx := m.store, m.documentID, m.ctx
	return func() tea.Msg {
		return sentMsg{err: store.SendMessage(ctx, id, content)}
	}
}

func (m Model) saveTitle(title string) tea.Cmd {
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		return titleSavedMsg{err: store.UpdateConversation(ctx, title)}
	}
}

func (m Model) ping() tea.Cmd {
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		return pingMsg{sent: store.Ping(ctx)}
	}
}

func (m Model) quit() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		defer cancel()
		_ = store.DisconnectWebSocket(ctx)
		return tea.Quit()
	}
}

// Update handles input and store notifications.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case stateMsg:
		grew := messageCount(msg.state) != messageCount(m.state)
		m.state = msg.state
		m.refresh(grew)
		return m, m.waitForState()

	case loadedMsg:
		if msg.document != nil {
			m.document = msg.document
		}
		if msg.documentErr != nil {
			m.logger.Warn("could not load document", "document_id", m.documentID, "error", msg.documentErr)
		}
		if msg.err != nil {
			m.logger.Debug("chat initialization failed", "document_id", m.documentID, "error", msg.err)
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.logger.Debug("send failed", "error", msg.err)
		}
		return m, nil

	case titleSavedMsg:
		if msg.err != nil {
			m.logger.Debug("title update failed", "error", msg.err)
		}
		return m, nil

	case pingMsg:
		m.note = notePingSkipped
		if msg.sent {
			m.note = notePingSent
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.note = ""
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		m.sub.close()
		return m, m.quit()

	case tea.KeyEsc:
		if m.editingTitle {
			m.editingTitle = false
			m.input.SetValue(m.draft)
			m.input.Placeholder = "Ask about this document"
			return m, nil
		}
		m.quitting = true
		m.sub.close()
		return m, m.quit()

	case tea.KeyCtrlR:
		return m, m.load(m.document == nil)

	case tea.KeyCtrlP:
		return m, m.ping()

	case tea.KeyCtrlT:
		if m.state.Conversation == nil || m.editingTitle {
			return m, nil
		}
		m.editingTitle = true
		m.draft = m.input.Value()
		title := ""
		if m.state.Conversation.Title != nil {
			title = *m.state.Conversation.Title
		}
		m.input.SetValue(title)
		m.input.CursorEnd()
		m.input.Placeholder = "Conversation title"
		return m, nil

	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		if m.editingTitle {
			if value == "" {
				return m, nil
			}
			m.editingTitle = false
			m.input.SetValue(m.draft)
			m.input.Placeholder = "Ask about this document"
			return m, m.saveTitle(value)
		}
		if value == "" {
			return m, nil
		}
		content := m.input.Value()
		m.input.Reset()
		return m, m.send(content)

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vh := height - headerHeight - footerHeight
	if vh < 3 {
		vh = 3
	}
	if !m.ready {
		m.viewport = viewport.New(width, vh)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vh
	}
	m.input.Width = max(width-4, 10)
	m.refresh(true)
}

func (m *Model) refresh(toBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages())
	if toBottom {
		m.viewport.GotoBottom()
	}
}

func messageCount(s chat.State) int {
	if s.Conversation == nil {
		return 0
	}
	return len(s.Conversation.Messages)
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading…"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.styles.divider.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.state.Error != "" {
		b.WriteString(m.styles.errorLine.Render(m.state.Error + " (ctrl+r to retry)"))
	} else if m.note != "" {
		b.WriteString(m.styles.hint.Render(m.note))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.hint.Render(keyHints))
	return b.String()
}

func (m Model) renderHeader() string {
	name := fmt.Sprintf("Document #%d", m.documentID)
	if m.document != nil && m.document.Filename != "" {
		name = m.document.Filename
	}
	title := m.styles.title.Render("LegalCheck · " + name)
	status := m.renderStatus()
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	line := title + strings.Repeat(" ", gap) + status

	sub := ""
	if m.state.Conversation != nil {
		sub = m.state.Conversation.DisplayTitle()
	}
	if m.state.Sending {
		sub = strings.TrimSpace(sub + " · sending…")
	}
	return line + "\n" + m.styles.subtitle.Render(sub)
}

func (m Model) renderStatus() string {
	switch {
	case m.state.WSConnected && m.state.CurrentConversationID > 0:
		return m.styles.connected.Render(fmt.Sprintf("● Connected (conversation %d)", m.state.CurrentConversationID))
	case m.state.WSConnecting:
		return m.styles.connecting.Render(m.spinner.View() + " Connecting…")
	default:
		return m.styles.disconnected.Render(statusDisconnected)
	}
}

func (m Model) renderMessages() string {
	conversation := m.state.Conversation
	if conversation == nil {
		if m.state.Loading {
			return m.styles.hint.Render("Loading messages…")
		}
		return m.styles.hint.Render("No messages yet. Ask a question about this document.")
	}
	if len(conversation.Messages) == 0 {
		return m.styles.hint.Render("No messages yet. Ask a question about this document.")
	}

	width := max(m.width, 20)
	bubbleWidth := width * 3 / 4
	blocks := make([]string, 0, len(conversation.Messages))
	for _, message := range conversation.Messages {
		blocks = append(blocks, m.renderMessage(message, width, bubbleWidth))
	}
	return strings.Join(blocks, "\n")
}

func (m Model) renderMessage(message models.Message, width, bubbleWidth int) string {
	style := m.styles.assistant
	label := "LegalCheck"
	align := lipgloss.Left
	if message.Author == models.AuthorUser {
		style = m.styles.user
		label = "You"
		align = lipgloss.Right
	}
	if message.IsProvisional() {
		style = m.styles.pending
		label += " · sending"
	} else if !message.CreatedAt.IsZero() {
		label += " · " + message.CreatedAt.Local().Format("15:04")
	}

	content := message.Content
	if lipgloss.Width(content) > bubbleWidth-4 {
		style = style.Width(bubbleWidth)
	}
	block := lipgloss.JoinVertical(align, m.styles.author.Render(label), style.Render(content))
	return lipgloss.PlaceHorizontal(width, align, block)
}
