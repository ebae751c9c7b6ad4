package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/tasktrack/pkg/models"
)

// stateColors follows the tracker's board colours.
var stateColors = map[models.State]lipgloss.Color{
	models.StateBacklog:       lipgloss.Color("245"),
	models.StateInAnalysis:    lipgloss.Color("39"),
	models.StateInDevelopment: lipgloss.Color("226"),
	models.StateBlocked:       lipgloss.Color("196"),
	models.StateCancelled:     lipgloss.Color("240"),
	models.StateCompleted:     lipgloss.Color("46"),
}

var (
	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(12)

	headingStyle = lipgloss.NewStyle().Bold(true)

	allowedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	deniedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// stateBadge renders state in its board colour.
func stateBadge(state models.State) string {
	color, ok := stateColors[state]
	if !ok {
		color = lipgloss.Color("245")
	}
	style := badgeStyle.Foreground(color)
	if state == models.StateCancelled {
		style = style.Faint(true)
	}
	return style.Render(string(state))
}

// renderTask formats a task for "task show".
func renderTask(t *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", headingStyle.Render(t.ID+"  "+t.Title), stateBadge(t.State))
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Priority"), t.Priority)
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Assignee"), userLabel(t.Assignee))
	project := t.Project.ID
	if t.Project.Title != "" {
		project += " (" + t.Project.Title + ")"
	}
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Project"), project)
	fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Manager"), userLabel(t.Project.ProjectManager))
	if t.TransitionReason != "" {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render("Reason"), t.TransitionReason)
	}
	if desc := renderMarkdown(t.Description, 80); desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}
	return b.String()
}

// renderCapabilities formats a capability set as a checklist.
func renderCapabilities(caps models.CapabilitySet) string {
	rows := []struct {
		label string
		ok    bool
	}{
		{"edit", caps.CanEditTask},
		{"delete", caps.CanDeleteTask},
		{"change state", caps.CanChangeState},
		{"comment", caps.CanComment},
		{"upload", caps.CanUploadAttachment},
	}
	var b strings.Builder
	for _, r := range rows {
		if r.ok {
			fmt.Fprintf(&b, "  %s %s\n", allowedStyle.Render("yes"), r.label)
		} else {
			fmt.Fprintf(&b, "  %s  %s\n", deniedStyle.Render("no"), r.label)
		}
	}
	return b.String()
}

func userLabel(u *models.UserRef) string {
	if u == nil {
		return "-"
	}
	if u.Name == "" {
		return u.ID
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.ID)
}

var (
	mdRendererMu sync.Mutex
	mdRenderers  = map[string]*glamour.TermRenderer{}
)

// renderMarkdown renders a task description. It falls back to the raw text
// when the renderer cannot be built.
func renderMarkdown(md string, width int) string {
	md = strings.TrimSpace(md)
	if md == "" {
		return ""
	}

	style := "dark"
	if Config != nil && Config.RenderStyle != "" {
		style = Config.RenderStyle
	}
	key := fmt.Sprintf("%s:%d", style, width)

	mdRendererMu.Lock()
	defer mdRendererMu.Unlock()
	r := mdRenderers[key]
	if r == nil {
		// WithAutoStyle queries the terminal and can block; use a fixed style.
		rr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return md
		}
		mdRenderers[key] = rr
		r = rr
	}

	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
