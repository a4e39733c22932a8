// Package tui provides the live session view behind `convoy status --watch`.
//
// The view is read-only: it follows the session directory with fsnotify and
// re-reads the task set and progress ledger whenever the orchestrator
// persists a change. It never writes session state itself.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/session"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
)

// Watch opens the live view for a session and blocks until the user quits.
func Watch(st *store.Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(st.Dir()); err != nil {
		return fmt.Errorf("failed to watch session directory: %w", err)
	}

	p := tea.NewProgram(newWatchModel(st, watcher), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type stateMsg struct {
	sess    *session.Session
	tasks   []task.Task
	entries []ledger.Entry
	err     error
}

type changedMsg struct{}

type watchModel struct {
	store   *store.Store
	watcher *fsnotify.Watcher
	ledger  *ledger.Ledger
	spin    spinner.Model

	width  int
	height int

	sess    *session.Session
	tasks   []task.Task
	entries []ledger.Entry
	err     error
}

func newWatchModel(st *store.Store, watcher *fsnotify.Watcher) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle

	return watchModel{
		store:   st,
		watcher: watcher,
		ledger:  ledger.Open(st.Dir()),
		spin:    sp,
	}
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.reload, m.waitForChange)
}

// reload re-reads everything the view shows.
func (m watchModel) reload() tea.Msg {
	sess, err := m.store.LoadSession()
	if err != nil {
		return stateMsg{err: err}
	}
	tasks, err := m.store.LoadTasks()
	if err != nil {
		return stateMsg{err: err}
	}
	entries, err := m.ledger.Entries()
	if err != nil {
		return stateMsg{err: err}
	}
	return stateMsg{sess: sess, tasks: tasks, entries: entries}
}

// waitForChange blocks on the next filesystem event in the session dir.
func (m watchModel) waitForChange() tea.Msg {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				return changedMsg{}
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case changedMsg:
		return m, tea.Batch(m.reload, m.waitForChange)

	case stateMsg:
		m.sess = msg.sess
		m.tasks = msg.tasks
		m.entries = msg.entries
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m watchModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n\n" + m.statusBar("q: quit")
	}
	if m.sess == nil {
		return m.spin.View() + " loading session..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("convoy · %s · %s", m.sess.Name, m.sess.Phase)))
	b.WriteString("\n")

	settled := 0
	for i := range m.tasks {
		switch m.tasks[i].Status {
		case task.StatusCompleted, task.StatusSkipped:
			settled++
		}
	}
	bar := ProgressBar{Current: settled, Total: len(m.tasks), Width: 30}
	b.WriteString(bar.View())
	b.WriteString("\n\n")

	for i := range m.tasks {
		b.WriteString(m.taskLine(&m.tasks[i]))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.lastEventLine())
	b.WriteString("\n")
	b.WriteString(m.statusBar("q: quit"))
	return b.String()
}

func (m watchModel) taskLine(t *task.Task) string {
	var marker, line string
	switch t.Status {
	case task.StatusCompleted:
		marker = successStyle.Render("✓")
		line = fmt.Sprintf("%s %s", t.ID, t.Title)
	case task.StatusFailed:
		marker = errorStyle.Render("✗")
		line = errorStyle.Render(fmt.Sprintf("%s %s (%d attempts)", t.ID, t.Title, t.Execution.Attempts))
	case task.StatusInProgress:
		marker = m.spin.View()
		line = activeStyle.Render(fmt.Sprintf("%s %s", t.ID, t.Title))
	case task.StatusBlocked:
		marker = warnStyle.Render("●")
		line = warnStyle.Render(fmt.Sprintf("%s %s (blocked)", t.ID, t.Title))
	case task.StatusSkipped:
		marker = warnStyle.Render("–")
		line = subtleStyle.Render(fmt.Sprintf("%s %s (skipped: %s)", t.ID, t.Title, t.Execution.SkipReason))
	default:
		marker = subtleStyle.Render("·")
		line = subtleStyle.Render(fmt.Sprintf("%s %s", t.ID, t.Title))
	}
	return fmt.Sprintf("  %s %s", marker, line)
}

func (m watchModel) lastEventLine() string {
	if len(m.entries) == 0 {
		return subtleStyle.Render("  waiting for progress...")
	}
	last := m.entries[len(m.entries)-1]
	line := fmt.Sprintf("  last: %s %s → %s",
		last.Timestamp.Format("15:04:05"), last.TaskID, last.Status)
	if last.Reason != "" {
		line += fmt.Sprintf(" (%s)", last.Reason)
	}
	return subtleStyle.Render(line)
}

func (m watchModel) statusBar(help string) string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	return statusBarStyle.Width(width).Render(help)
}
