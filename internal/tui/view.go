package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/streamline/internal/module"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

const moduleHelp = "enter edit · n new · d remove · s send · u undefine · l load blocks · x execute · c config · q quit"

// moduleItem implements list.Item for one registry entry.
type moduleItem struct {
	id    int
	name  string
	open  bool
	lines int
}

func newModuleItem(m module.Module) moduleItem {
	return moduleItem{
		id:    m.ID,
		name:  m.Name(),
		open:  m.Open,
		lines: strings.Count(m.Source, "\n") + 1,
	}
}

func (i moduleItem) Title() string {
	marker := " "
	if i.open {
		marker = "●"
	}
	return fmt.Sprintf("%s %d · %s", marker, i.id, i.name)
}

func (i moduleItem) Description() string {
	if i.lines == 1 {
		return "1 line"
	}
	return fmt.Sprintf("%d lines", i.lines)
}

func (i moduleItem) FilterValue() string { return i.name }

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(24, width/3)
	rightWidth := max(20, width-leftWidth-6)

	var right string
	switch a.state {
	case stateEditor:
		right = lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(fmt.Sprintf("MODULE %d", a.editingID)),
			a.editor.View(),
		)
	case stateConfig:
		right = a.renderForm("CONNECTION", a.configInputs)
	case stateRange:
		right = a.renderForm(strings.ToUpper(string(a.rangeOp)), a.rangeInputs)
	default:
		right = lipgloss.JoinVertical(lipgloss.Left,
			a.renderConnection(),
			"",
			titleStyle.Render("RESPONSE"),
			a.output.View(),
		)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Width(leftWidth).Render(a.moduleList.View()),
		boxStyle.Width(rightWidth).Render(right),
	)
	sections := []string{headerStyle.Render("⬡ STREAMLINE"), body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := a.statusMsg
	if footer == "" && a.state == stateModules {
		footer = moduleHelp
	}
	if a.inFlight > 0 {
		footer = fmt.Sprintf("[%d in flight] %s", a.inFlight, footer)
	}
	sections = append(sections, mutedStyle.MarginTop(1).Render(footer))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) renderConnection() string {
	s := a.conn.Snapshot()
	lines := []string{
		titleStyle.Render("CONNECTION"),
		fmt.Sprintf("direct      %s", s.DirectURL("")),
		fmt.Sprintf("management  %s", s.ManagementURL("")),
		mutedStyle.Render(fmt.Sprintf("timeout %s · generation %d", s.Timeout, a.conn.Generation())),
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderForm(title string, inputs []textinput.Model) string {
	rows := []string{titleStyle.Render(title)}
	for _, in := range inputs {
		rows = append(rows, in.View())
	}
	return strings.Join(rows, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(5)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	head := titleStyle.Render(fmt.Sprintf("LOG · %s", fileName))
	body := mutedStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}
