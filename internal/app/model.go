// Package app is the interactive chat view over a conversation engine.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taskstream/internal/conversation"
	"taskstream/internal/types"
)

const (
	minViewportWidth = 20
	minContentHeight = 6
	chromeLines      = 5
	leaveTimeout     = 2 * time.Second
)

// Engine is what the view drives. *conversation.Engine satisfies it.
type Engine interface {
	Restore(ctx context.Context) (int64, error)
	Select(ctx context.Context, dialogueID int64) error
	Send(ctx context.Context, text string) (int64, error)
	Confirm(ctx context.Context, actionID string) (conversation.Decision, error)
	Cancel(ctx context.Context, actionID string) (conversation.Decision, error)
	Stop(dialogueID int64)
	Leave(ctx context.Context) error
	Messages() []types.Message
	Visible() int64
	Streaming(dialogueID int64) bool
	State() conversation.State
	Updates() <-chan conversation.Update
}

type DialogueAPI interface {
	ListDialogues(ctx context.Context) ([]types.DialogueSummary, error)
}

type Model struct {
	engine    Engine
	dialogues DialogueAPI

	viewport viewport.Model
	input    textinput.Model
	loader   spinner.Model

	width  int
	height int

	list           []types.DialogueSummary
	selectedAction string
	status         string
	statusErr      bool
	follow         bool
}

func NewModel(engine Engine, dialogues DialogueAPI) Model {
	vp := viewport.New(minViewportWidth, minContentHeight)
	input := textinput.New()
	input.Placeholder = "Ask the assistant…"
	input.Prompt = "› "
	input.Focus()
	loader := spinner.New()
	loader.Spinner = spinner.Line
	loader.Style = lipgloss.NewStyle()
	m := Model{
		engine:    engine,
		dialogues: dialogues,
		viewport:  vp,
		input:     input,
		loader:    loader,
		follow:    true,
	}
	m.refreshContent()
	return m
}

func Run(engine Engine, dialogues DialogueAPI) error {
	markdown.setDark(lipgloss.HasDarkBackground())
	model := NewModel(engine, dialogues)
	p := tea.NewProgram(&model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		listenCmd(m.engine.Updates()),
		fetchDialoguesCmd(m.dialogues),
		restoreCmd(m.engine),
		m.loader.Tick,
		textinput.Blink,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case engineUpdateMsg:
		cmds := []tea.Cmd{listenCmd(m.engine.Updates())}
		if msg.Err != nil {
			m.setError(msg.Err.Error())
		}
		if msg.Kind == conversation.UpdateStreamFinished && !m.knownDialogue(msg.DialogueID) {
			cmds = append(cmds, fetchDialoguesCmd(m.dialogues))
		}
		m.refreshContent()
		return m, tea.Batch(cmds...)
	case engineClosedMsg:
		return m, nil
	case dialoguesMsg:
		if msg.err != nil {
			m.setError("list dialogues: " + msg.err.Error())
			return m, nil
		}
		m.list = msg.dialogues
		return m, nil
	case restoredMsg:
		if msg.err != nil {
			m.setError("restore: " + msg.err.Error())
		}
		m.refreshContent()
		return m, nil
	case selectedMsg:
		if msg.err != nil {
			m.setError(msg.err.Error())
		} else {
			m.setStatus("")
		}
		m.follow = true
		m.refreshContent()
		return m, nil
	case sentMsg:
		switch {
		case errors.Is(msg.err, conversation.ErrStreamBusy):
			m.setStatus("still replying; wait or press esc to stop")
		case msg.err != nil:
			m.setError(msg.err.Error())
		}
		m.refreshContent()
		return m, nil
	case decisionMsg:
		m.applyDecision(msg)
		m.refreshContent()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.loader, cmd = m.loader.Update(msg)
		if m.engine.Streaming(m.engine.Visible()) {
			m.refreshContent()
		}
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case keyQuit:
		m.leave()
		return m, tea.Quit
	case keyStop:
		if id := m.engine.Visible(); m.engine.Streaming(id) {
			m.engine.Stop(id)
			m.setStatus("stopped")
			return m, nil
		}
		m.leave()
		return m, tea.Quit
	case keySend:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.follow = true
		m.setStatus("")
		return m, sendCmd(m.engine, text)
	case keyNewDialogue:
		m.selectedAction = ""
		return m, selectCmd(m.engine, 0)
	case keyPrevDialogue, keyNextDialogue:
		id, ok := m.adjacentDialogue(msg.String() == keyNextDialogue)
		if !ok {
			m.setStatus("no other dialogues")
			return m, nil
		}
		m.selectedAction = ""
		m.setStatus("loading " + renderDialogueTitle(m.list, id))
		return m, selectCmd(m.engine, id)
	case keyPrevCard, keyNextCard:
		m.moveCardSelection(msg.String() == keyNextCard)
		m.refreshContent()
		return m, nil
	case keyConfirm, keyReject:
		actionID := m.currentAction()
		if actionID == "" {
			m.setStatus("no pending action")
			return m, nil
		}
		return m, decideCmd(m.engine, actionID, msg.String() == keyConfirm)
	case keyCopy:
		m.copyLastReply()
		return m, nil
	case keyPageUp:
		m.viewport.HalfViewUp()
		m.follow = m.viewport.AtBottom()
		return m, nil
	case keyPageDown:
		m.viewport.HalfViewDown()
		m.follow = m.viewport.AtBottom()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	id := m.engine.Visible()
	header := headerStyle.Render("taskstream · " + renderDialogueTitle(m.list, id))
	if state := m.engine.State(); state == conversation.StateLoadingCache || state == conversation.StateLoadingServer {
		header += " " + activityStyle.Render(m.loader.View()+" syncing")
	}
	width := max(m.width, minViewportWidth)
	divider := dividerStyle.Render(strings.Repeat("─", width))
	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = statusErrorStyle.Render(m.status)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		divider,
		m.input.View(),
		status,
		helpStyle.Render(helpLine),
	)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(width, minViewportWidth)
	m.viewport.Height = max(height-chromeLines-1, minContentHeight)
	m.input.Width = max(width-4, 10)
	m.refreshContent()
}

func (m *Model) refreshContent() {
	messages := m.engine.Messages()
	m.syncCardSelection(messages)
	content := renderTranscript(messages, renderOptions{
		width:          m.viewport.Width,
		selectedAction: m.selectedAction,
		streaming:      m.engine.Streaming(m.engine.Visible()),
		spinner:        m.loader.View(),
	})
	m.viewport.SetContent(content)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// syncCardSelection keeps the selection on a pending card, defaulting to the
// newest one.
func (m *Model) syncCardSelection(messages []types.Message) {
	pending := types.PendingActionIDs(messages)
	if len(pending) == 0 {
		m.selectedAction = ""
		return
	}
	for _, id := range pending {
		if id == m.selectedAction {
			return
		}
	}
	m.selectedAction = pending[len(pending)-1]
}

func (m *Model) moveCardSelection(forward bool) {
	pending := types.PendingActionIDs(m.engine.Messages())
	if len(pending) == 0 {
		m.selectedAction = ""
		return
	}
	idx := len(pending) - 1
	for i, id := range pending {
		if id == m.selectedAction {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(pending)
	} else {
		idx = (idx - 1 + len(pending)) % len(pending)
	}
	m.selectedAction = pending[idx]
}

func (m *Model) currentAction() string {
	m.syncCardSelection(m.engine.Messages())
	return m.selectedAction
}

func (m *Model) applyDecision(msg decisionMsg) {
	if msg.err != nil {
		m.setError(msg.err.Error())
		return
	}
	d := msg.decision
	switch {
	case d.Forced:
		m.setStatus("action expired on the server; rejected")
	case d.Confirmation == types.ConfirmationAccepted:
		m.setStatus("confirmed")
	default:
		m.setStatus("rejected")
	}
}

func (m *Model) adjacentDialogue(forward bool) (int64, bool) {
	if len(m.list) == 0 {
		return 0, false
	}
	current := m.engine.Visible()
	idx := -1
	for i, d := range m.list {
		if d.ID == current {
			idx = i
			break
		}
	}
	switch {
	case idx < 0 && forward:
		idx = 0
	case idx < 0:
		idx = len(m.list) - 1
	case forward:
		idx = (idx + 1) % len(m.list)
	default:
		idx = (idx - 1 + len(m.list)) % len(m.list)
	}
	if m.list[idx].ID == current {
		return 0, false
	}
	return m.list[idx].ID, true
}

func (m *Model) knownDialogue(id int64) bool {
	for _, d := range m.list {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (m *Model) copyLastReply() {
	messages := m.engine.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != types.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(messages[i].Text())
		if text == "" {
			continue
		}
		method, err := copyTextToClipboard(text)
		if err != nil {
			m.setError("copy failed: " + err.Error())
			return
		}
		m.setStatus("copied reply (" + method.String() + ")")
		return
	}
	m.setStatus("nothing to copy")
}

func (m *Model) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := m.engine.Leave(ctx); err != nil {
		m.setError(err.Error())
	}
}

func (m *Model) setStatus(text string) {
	m.status = text
	m.statusErr = false
}

func (m *Model) setError(text string) {
	m.status = text
	m.statusErr = true
}
