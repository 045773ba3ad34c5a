package review

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))

type loadDoneMsg struct {
	items []Item
	err   error
}

type spinnerTickMsg struct{}

func spinnerTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

type loaderModel struct {
	backend Backend
	frame   int
	result  []Item
	err     error
	done    bool
}

func (m loaderModel) Init() tea.Cmd {
	return tea.Batch(loadQueueCmd(m.backend), spinnerTick())
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadDoneMsg:
		m.result = msg.items
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinnerTickMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, spinnerTick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = fmt.Errorf("cancelled")
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s Loading review queue...\n", spinnerStyle.Render(spinnerFrames[m.frame]))
}

// loadQueue fetches the review queue and the listing behind each application.
// A listing that cannot be loaded leaves the item with an empty listing.
func loadQueue(ctx context.Context, b Backend) ([]Item, error) {
	apps, err := b.ReviewQueue(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(apps))
	for _, app := range apps {
		full, err := b.Application(ctx, app.ID)
		if err == nil {
			app = full
		}
		it := Item{App: app}
		if app.ListingID != "" {
			if l, err := b.Listing(ctx, app.ListingID); err == nil {
				it.Listing = l
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func loadQueueCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		items, err := loadQueue(ctx, b)
		return loadDoneMsg{items: items, err: err}
	}
}

// RunLoader shows a spinner while the review queue loads. It renders inline
// (no alt screen).
func RunLoader(b Backend) ([]Item, error) {
	p := tea.NewProgram(loaderModel{backend: b})
	result, err := p.Run()
	if err != nil {
		return nil, err
	}
	final := result.(loaderModel)
	return final.result, final.err
}
