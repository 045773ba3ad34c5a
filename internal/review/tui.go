// Package review is the terminal UI for the human-in-the-loop step of
// auto-apply: browse applications waiting on a reviewer, fill the fields the
// worker could not, and submit or cancel them.
package review

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/hunter/internal/model"
)

// Lines per item in the list view (title + subtitle + blank separator).
const itemHeight = 3

const actionTimeout = 2 * time.Minute

// Backend is the part of the service the review UI drives.
type Backend interface {
	ReviewQueue(ctx context.Context) ([]model.Application, error)
	Application(ctx context.Context, appID string) (model.Application, error)
	Listing(ctx context.Context, listingID string) (model.Listing, error)
	SubmitReview(ctx context.Context, appID string, reviewed map[string]string) (model.Application, error)
	Cancel(ctx context.Context, appID string) (model.Application, error)
	RequestAIAssist(ctx context.Context, appID string) (map[string]string, error)
}

// Item is one review-queue entry with the listing it applies to.
type Item struct {
	App     model.Application
	Listing model.Listing
}

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

type editMode int

const (
	modeBrowse editMode = iota
	modeEdit
	modePick
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")) // bright blue

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("39"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	itemTitleStyle = lipgloss.NewStyle().
			Bold(true)

	itemSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")). // bright white
				Background(lipgloss.Color("24"))  // dark blue bg

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailValueStyle = lipgloss.NewStyle()

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	dividerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	needsInputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // orange

	draftStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

type aiAnswersMsg struct {
	appID   string
	answers map[string]string
	err     error
}

type submittedMsg struct {
	app model.Application
	err error
}

type cancelledMsg struct {
	app model.Application
	err error
}

type reviewModel struct {
	backend Backend
	items   []Item
	cursor  int

	listViewport viewport.Model
	width        int
	height       int
	ready        bool

	view           viewState
	mode           editMode
	detail         Item
	drafts         map[string]string
	fieldCursor    int
	detailViewport viewport.Model
	input          textinput.Model
	picker         optionPicker

	busy    string
	frame   int
	notice  string
	lastErr string
}

func newReviewModel(b Backend, items []Item) reviewModel {
	sortItems(items)
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = 4000
	return reviewModel{backend: b, items: items, input: in, drafts: map[string]string{}}
}

func (m reviewModel) Init() tea.Cmd {
	return nil
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		return m, nil

	case spinnerTickMsg:
		if m.busy == "" {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, spinnerTick()

	case loadDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("refresh failed: %v", msg.err)
			return m, nil
		}
		m.lastErr = ""
		m.items = msg.items
		sortItems(m.items)
		m.cursor = clamp(m.cursor, 0, max(len(m.items)-1, 0))
		m.notice = fmt.Sprintf("%d application(s) waiting", len(m.items))
		m.recalcContent()
		return m, nil

	case aiAnswersMsg:
		m.busy = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("AI assist failed: %v", msg.err)
		} else if msg.appID == m.detail.App.ID {
			filled := 0
			for name, v := range msg.answers {
				if _, edited := m.drafts[name]; edited || v == "" {
					continue
				}
				m.drafts[name] = v
				filled++
			}
			m.lastErr = ""
			if filled == 0 {
				m.notice = "AI assist had no suggestions"
			} else {
				m.notice = fmt.Sprintf("AI drafted %d field(s); review before submitting", filled)
			}
		}
		m.refreshDetail()
		return m, nil

	case submittedMsg:
		m.busy = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("submit failed: %v", msg.err)
			m.refreshDetail()
			return m, nil
		}
		m.lastErr = ""
		m.replaceApp(msg.app)
		m.view = viewList
		m.mode = modeBrowse
		m.notice = "Review submitted; the worker will finish the application"
		m.recalcContent()
		return m, nil

	case cancelledMsg:
		m.busy = ""
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("cancel failed: %v", msg.err)
			m.refreshDetail()
			return m, nil
		}
		m.lastErr = ""
		m.removeApp(msg.app.ID)
		m.view = viewList
		m.mode = modeBrowse
		m.notice = "Application " + string(msg.app.Status)
		m.recalcContent()
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			switch m.mode {
			case modeEdit:
				return m.updateEdit(msg)
			case modePick:
				return m.updatePick(msg)
			}
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m reviewModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		m.cursor = clamp(m.cursor-1, 0, max(len(m.items)-1, 0))
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "down", "j":
		m.cursor = clamp(m.cursor+1, 0, max(len(m.items)-1, 0))
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "r":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "refreshing"
		return m, tea.Batch(loadQueueCmd(m.backend), spinnerTick())
	case "enter":
		return m.openDetailView()
	}

	var cmd tea.Cmd
	m.listViewport, cmd = m.listViewport.Update(msg)
	return m, cmd
}

func (m reviewModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	fields := m.detail.App.DetectedFields
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		m.recalcContent()
		return m, nil
	case "up", "k":
		m.fieldCursor = clamp(m.fieldCursor-1, 0, max(len(fields)-1, 0))
		m.refreshDetail()
		return m, nil
	case "down", "j":
		m.fieldCursor = clamp(m.fieldCursor+1, 0, max(len(fields)-1, 0))
		m.refreshDetail()
		return m, nil
	case "enter", "e":
		if len(fields) == 0 || m.busy != "" {
			return m, nil
		}
		f := fields[m.fieldCursor]
		current := m.valueOf(f)
		if len(f.Options) > 0 {
			m.mode = modePick
			m.picker = newOptionPicker(fieldLabel(f), f.Options, current)
			return m, nil
		}
		m.mode = modeEdit
		m.input.SetValue(current)
		m.input.Placeholder = fieldLabel(f)
		m.input.Width = max(m.width-8, 20)
		m.input.CursorEnd()
		return m, m.input.Focus()
	case "a":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "asking AI"
		m.notice = ""
		m.refreshDetail()
		return m, tea.Batch(m.aiAssistCmd(m.detail.App.ID), spinnerTick())
	case "s":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "submitting"
		m.notice = ""
		m.refreshDetail()
		return m, tea.Batch(m.submitCmd(m.detail.App.ID, copyDrafts(m.drafts)), spinnerTick())
	case "x":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "cancelling"
		m.notice = ""
		m.refreshDetail()
		return m, tea.Batch(m.cancelCmd(m.detail.App.ID), spinnerTick())
	case "o":
		if m.detail.Listing.URL != "" {
			openURL(m.detail.Listing.URL)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m reviewModel) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.input.Blur()
		m.refreshDetail()
		return m, nil
	case "enter":
		f := m.detail.App.DetectedFields[m.fieldCursor]
		m.drafts[f.Name] = m.input.Value()
		m.mode = modeBrowse
		m.input.Blur()
		m.refreshDetail()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m reviewModel) updatePick(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	next, value, done, chosen := m.picker.update(msg)
	m.picker = next
	if done {
		if chosen {
			f := m.detail.App.DetectedFields[m.fieldCursor]
			m.drafts[f.Name] = value
		}
		m.mode = modeBrowse
		m.refreshDetail()
	}
	return m, nil
}

func (m reviewModel) openDetailView() (tea.Model, tea.Cmd) {
	if len(m.items) == 0 {
		return m, nil
	}
	m.view = viewDetail
	m.mode = modeBrowse
	m.detail = m.items[m.cursor]
	m.drafts = map[string]string{}
	m.fieldCursor = firstOpenField(m.detail.App.DetectedFields)
	m.notice = ""
	m.lastErr = ""
	m.detailViewport = viewport.New(max(m.width-4, 20), max(m.height-5, 5))
	m.refreshDetail()
	return m, nil
}

func (m reviewModel) aiAssistCmd(appID string) tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		answers, err := b.RequestAIAssist(ctx, appID)
		return aiAnswersMsg{appID: appID, answers: answers, err: err}
	}
}

func (m reviewModel) submitCmd(appID string, reviewed map[string]string) tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		app, err := b.SubmitReview(ctx, appID, reviewed)
		return submittedMsg{app: app, err: err}
	}
}

func (m reviewModel) cancelCmd(appID string) tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		app, err := b.Cancel(ctx, appID)
		return cancelledMsg{app: app, err: err}
	}
}

func (m *reviewModel) replaceApp(app model.Application) {
	for i := range m.items {
		if m.items[i].App.ID == app.ID {
			m.items[i].App = app
			return
		}
	}
}

func (m *reviewModel) removeApp(id string) {
	for i := range m.items {
		if m.items[i].App.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	m.cursor = clamp(m.cursor, 0, max(len(m.items)-1, 0))
}

func (m reviewModel) valueOf(f model.DetectedField) string {
	if v, ok := m.drafts[f.Name]; ok {
		return v
	}
	return f.Value
}

func (m *reviewModel) ensureCursorVisible() {
	top := m.cursor * itemHeight
	bottom := top + itemHeight - 1
	vp := &m.listViewport
	if top < vp.YOffset {
		vp.SetYOffset(top)
	} else if bottom >= vp.YOffset+vp.Height {
		vp.SetYOffset(bottom - vp.Height + 1)
	}
}

func (m *reviewModel) recalcLayout() {
	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	w := max(m.width-2, 20)
	h := max(m.height-4, 5)
	if !m.ready {
		m.listViewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.listViewport.Width = w
		m.listViewport.Height = h
	}
	m.detailViewport.Width = max(m.width-4, 20)
	m.detailViewport.Height = max(m.height-5, 5)
	m.recalcContent()
	if m.view == viewDetail {
		m.refreshDetail()
	}
}

func (m *reviewModel) recalcContent() {
	m.listViewport.SetContent(renderItems(m.items, m.cursor))
}

func (m *reviewModel) refreshDetail() {
	m.detailViewport.SetContent(m.renderDetail())
}

func (m reviewModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m reviewModel) viewList() string {
	header := headerStyle.Render(fmt.Sprintf(" Review Queue (%d)", len(m.items)))
	pane := activeBorderStyle.Width(m.listViewport.Width).Render(m.listViewport.View())

	status := " ↑/↓ cursor  Enter review  r refresh  q quit"
	if line := m.statusLine(); line != "" {
		status = " " + line + "   " + status
	}
	return header + "\n" + pane + "\n" + statusBarStyle.Width(m.width).Render(status)
}

func (m reviewModel) viewDetail() string {
	title := detailTitleStyle.Render(fmt.Sprintf("%s: %s", m.detail.Listing.Company, m.detail.Listing.Title))
	content := activeBorderStyle.Width(m.width - 2).Render(m.detailViewport.View())

	var status string
	switch m.mode {
	case modeEdit:
		status = " enter save  esc discard"
		content += "\n" + m.input.View()
	case modePick:
		content = activeBorderStyle.Width(m.width - 2).Render(m.picker.view())
		status = " ↑/↓ choose  enter select  esc cancel"
	default:
		status = " ↑/↓ field  e edit  a AI assist  s submit  x cancel app  o open URL  esc back  q quit"
	}
	if line := m.statusLine(); line != "" {
		status = " " + line + "   " + status
	}
	return title + "\n" + content + "\n" + statusBarStyle.Width(m.width).Render(status)
}

func (m reviewModel) statusLine() string {
	switch {
	case m.busy != "":
		return spinnerStyle.Render(spinnerFrames[m.frame]) + " " + m.busy + "..."
	case m.lastErr != "":
		return errorStyle.Render("⚠ " + m.lastErr)
	default:
		return m.notice
	}
}

func (m reviewModel) renderDetail() string {
	app := m.detail.App
	l := m.detail.Listing
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteByte('\n')
	}

	addField("Status", string(app.Status))
	addField("Application", app.ID)
	addField("Location", l.Location)
	if l.MatchScore > 0 {
		addField("Match", fmt.Sprintf("%d/100", l.MatchScore))
	}
	addField("URL", l.URL)
	if app.CaptchaFound {
		addField("CAPTCHA", "detected; finish the form by hand after submitting")
	}
	if app.ScreenshotRef != "" {
		addField("Screenshot", app.ScreenshotRef)
	}

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return dividerStyle.Render(label + fill)
	}

	b.WriteByte('\n')
	b.WriteString(divider("── Fields ") + "\n\n")
	if len(app.DetectedFields) == 0 {
		b.WriteString(hintStyle.Render("  no fields detected") + "\n")
	}
	for i, f := range app.DetectedFields {
		prefix := "  "
		labelSt := itemTitleStyle
		if i == m.fieldCursor {
			prefix = "> "
			labelSt = selectedTitleStyle
		}
		b.WriteString(prefix + labelSt.Render(fieldLabel(f)))
		b.WriteString(itemSubtitleStyle.Render(fmt.Sprintf("  (%s)", f.Type)))
		b.WriteByte('\n')

		value, drafted := m.drafts[f.Name]
		switch {
		case drafted:
			b.WriteString("    " + draftStyle.Render(oneLine(value, wrapWidth-4)) + " " + hintStyle.Render("(draft)"))
		case f.Status == model.FieldNeedsInput:
			b.WriteString("    " + needsInputStyle.Render("needs input"))
		default:
			b.WriteString("    " + detailValueStyle.Render(oneLine(f.Value, wrapWidth-4)))
		}
		b.WriteByte('\n')
	}

	if len(app.AuditLog) > 0 {
		b.WriteByte('\n')
		b.WriteString(divider("── History ") + "\n\n")
		for _, e := range app.AuditLog {
			line := fmt.Sprintf("  %s  %-18s %s", e.Timestamp.Local().Format("01-02 15:04"), e.Action, e.Details)
			b.WriteString(hintStyle.Render(wordWrap(line, wrapWidth)) + "\n")
		}
	}
	return b.String()
}

func renderItems(items []Item, cursor int) string {
	if len(items) == 0 {
		return "  (nothing to review)"
	}

	var b strings.Builder
	for i, it := range items {
		titleSt, subtitleSt, prefix := itemTitleStyle, itemSubtitleStyle, "  "
		if i == cursor {
			titleSt, subtitleSt, prefix = selectedTitleStyle, selectedSubtitleStyle, "> "
		}

		title := it.Listing.Title
		if title == "" {
			title = it.App.ID
		}
		b.WriteString(prefix)
		b.WriteString(titleSt.Render(title))
		b.WriteByte('\n')

		sub := fmt.Sprintf("%s · %s · %d open field(s)", it.Listing.Company, it.App.Status, openFieldCount(it.App))
		if it.App.CaptchaFound {
			sub += " · captcha"
		}
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(sub))
		b.WriteByte('\n')

		if i < len(items)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// sortItems puts applications needing input ahead of those only awaiting
// confirmation, oldest first within each group.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ai, aj := items[i].App, items[j].App
		if ai.Status != aj.Status {
			return ai.Status == model.AppNeedsReview
		}
		return ai.CreatedAt.Before(aj.CreatedAt)
	})
}

func openFieldCount(app model.Application) int {
	n := 0
	for _, f := range app.DetectedFields {
		if f.Status == model.FieldNeedsInput {
			n++
		}
	}
	return n
}

func firstOpenField(fields []model.DetectedField) int {
	for i, f := range fields {
		if f.Status == model.FieldNeedsInput {
			return i
		}
	}
	return 0
}

func fieldLabel(f model.DetectedField) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func copyDrafts(d map[string]string) map[string]string {
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width > 1 && len([]rune(s)) > width {
		return string([]rune(s)[:width-1]) + "…"
	}
	return s
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// Run shows the loader, then the full-screen review UI until the user quits.
func Run(b Backend) error {
	items, err := RunLoader(b)
	if err != nil {
		return err
	}
	p := tea.NewProgram(newReviewModel(b, items), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
