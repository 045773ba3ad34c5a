package review

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(0, 0, 1, 2)

	pickerItemStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 0, 0, 2)

	pickerHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)
)

// optionPicker chooses one option of a select field. It is embedded in the
// review model rather than run as its own program.
type optionPicker struct {
	title   string
	options []string
	cursor  int
}

func newOptionPicker(title string, options []string, current string) optionPicker {
	p := optionPicker{title: title, options: options}
	for i, o := range options {
		if strings.EqualFold(o, current) {
			p.cursor = i
			break
		}
	}
	return p
}

// update handles a key and reports whether the user chose (chosen=true) or
// dismissed the picker (done=true, chosen=false).
func (p optionPicker) update(msg tea.KeyMsg) (next optionPicker, value string, done, chosen bool) {
	switch msg.String() {
	case "esc":
		return p, "", true, false
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down", "j":
		if p.cursor < len(p.options)-1 {
			p.cursor++
		}
	case "enter":
		if len(p.options) == 0 {
			return p, "", true, false
		}
		return p, p.options[p.cursor], true, true
	}
	return p, "", false, false
}

func (p optionPicker) view() string {
	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render(p.title))
	b.WriteByte('\n')
	for i, o := range p.options {
		if i == p.cursor {
			b.WriteString(pickerSelectedStyle.Render("> " + o))
		} else {
			b.WriteString(pickerItemStyle.Render(o))
		}
		b.WriteByte('\n')
	}
	b.WriteString(pickerHintStyle.Render("↑/↓/j/k navigate  enter select  esc cancel"))
	return b.String()
}
