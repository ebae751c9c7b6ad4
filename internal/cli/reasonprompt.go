package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

var (
	promptTitleStyle = lipgloss.NewStyle().Bold(true)
	promptBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	promptErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// reasonModel is the dialog shown when a transition needs a reason. Enter
// submits, esc cancels. A blank reason keeps the dialog open.
type reasonModel struct {
	taskID    string
	target    models.State
	input     textinput.Model
	err       string
	submitted bool
	cancelled bool
}

func newReasonModel(taskID string, target models.State) reasonModel {
	in := textinput.New()
	in.Placeholder = "Why?"
	in.CharLimit = 500
	in.Width = 60
	in.Focus()
	return reasonModel{taskID: taskID, target: target, input: in}
}

func (m reasonModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m reasonModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == "" {
				m.err = "a reason is required"
				return m, nil
			}
			m.submitted = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.err != "" && strings.TrimSpace(m.input.Value()) != "" {
		m.err = ""
	}
	return m, cmd
}

func (m reasonModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", promptTitleStyle.Render(fmt.Sprintf("Move %s to %s", m.taskID, m.target)))
	b.WriteString(m.input.View())
	if m.err != "" {
		fmt.Fprintf(&b, "\n%s", promptErrorStyle.Render(m.err))
	}
	fmt.Fprintf(&b, "\n\n%s", promptHelpStyle.Render("enter: submit | esc: cancel"))
	return promptBoxStyle.Render(b.String()) + "\n"
}

// reason returns the captured text and whether it was submitted.
func (m reasonModel) reason() (string, bool) {
	if !m.submitted {
		return "", false
	}
	return m.input.Value(), true
}

// promptReason asks for a reason interactively. Tests replace it.
var promptReason = func(taskID string, target models.State) (string, bool, error) {
	final, err := tea.NewProgram(newReasonModel(taskID, target)).Run()
	if err != nil {
		return "", false, fmt.Errorf("running reason prompt: %w", err)
	}
	reason, ok := final.(reasonModel).reason()
	return reason, ok, nil
}
