// Package tui provides interactive terminal UI components.
package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/folio/internal/book"
)

const (
	defaultListWidth  = 72
	defaultListHeight = 20
)

var runProgram = func(m tea.Model) (tea.Model, error) {
	return tea.NewProgram(m).Run()
}

// SelectionAction represents the user's action in the selection UI.
type SelectionAction int

const (
	// ActionNone indicates no action was taken.
	ActionNone SelectionAction = iota
	// ActionSelected indicates the user selected an item.
	ActionSelected
	// ActionSkipped indicates the user left without choosing.
	ActionSkipped
	// ActionStopped indicates the user quit.
	ActionStopped
)

// SelectionResult holds the result of a TUI selection.
type SelectionResult struct {
	Action    SelectionAction
	Selection *book.Record
}

type bookItem struct {
	book.Record
}

// Title is the list.DefaultItem title; the record's own Title field is shadowed.
func (i bookItem) Title() string {
	return i.Record.Title
}

func (i bookItem) FilterValue() string {
	return i.Record.Title + " " + i.Author
}

func (i bookItem) Description() string {
	return i.Record.Description
}

type itemStyles struct {
	normal        lipgloss.Style
	selected      lipgloss.Style
	sourceStyle   lipgloss.Style
	titleStyle    lipgloss.Style
	actionStyle   lipgloss.Style
	metadataStyle lipgloss.Style
	overviewStyle lipgloss.Style
}

func newItemStyles() itemStyles {
	asciiBorder := lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}

	container := lipgloss.NewStyle().
		Border(asciiBorder).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Foreground(lipgloss.Color("252"))

	selected := container.Copy().
		BorderForeground(lipgloss.Color("214")).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("237"))

	return itemStyles{
		normal:   container,
		selected: selected,
		sourceStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("110")),
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("254")),
		actionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("178")),
		metadataStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("247")).
			Faint(true),
		overviewStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("248")),
	}
}

type bookDelegate struct {
	styles itemStyles
}

func newDelegate() bookDelegate {
	return bookDelegate{styles: newItemStyles()}
}

func (d bookDelegate) Height() int                         { return 5 }
func (d bookDelegate) Spacing() int                        { return 1 }
func (d bookDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (d bookDelegate) Render(w io.Writer, m list.Model, idx int, item list.Item) {
	it, ok := item.(bookItem)
	if !ok {
		return
	}
	rec := it.Record
	width := m.Width() - 4

	sourceLine := d.styles.sourceStyle.Render(fmt.Sprintf("[%s]", strings.ToUpper(rec.Source)))
	metadataLine := d.styles.metadataStyle.Render(formatMetadata(rec, width))
	titleLine := d.styles.titleStyle.Render(truncate(rec.Title, width))
	actionLine := d.styles.actionStyle.Render(actionLabel(rec))
	overviewLine := d.styles.overviewStyle.Render(truncate(rec.Description, width))

	content := lipgloss.JoinVertical(lipgloss.Left, sourceLine, metadataLine, titleLine, actionLine, overviewLine)

	container := d.styles.normal
	if idx == m.Index() {
		container = d.styles.selected
	}
	_, _ = fmt.Fprint(w, container.Render(content))
}

type model struct {
	list        list.Model
	searchTitle string
	result      SelectionResult
}

func newModel(title string, items []bookItem) *model {
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}

	delegate := newDelegate()
	l := list.New(listItems, delegate, defaultListWidth, defaultListHeight)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowPagination(false)
	l.DisableQuitKeybindings()
	l.Styles.NoItems = lipgloss.NewStyle()

	return &model{
		list:        l,
		searchTitle: title,
		result: SelectionResult{
			Action: ActionNone,
		},
	}
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if selected, ok := m.list.SelectedItem().(bookItem); ok {
				rec := selected.Record
				m.result = SelectionResult{
					Action:    ActionSelected,
					Selection: &rec,
				}
				return m, tea.Quit
			}
		case "s", "esc":
			m.result = SelectionResult{Action: ActionSkipped}
			return m, tea.Quit
		case "ctrl+c", "q":
			m.result = SelectionResult{Action: ActionStopped}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		width := clamp(defaultListWidth, msg.Width-4, 40)
		height := clamp(defaultListHeight, msg.Height-6, 5)
		m.list.SetSize(width, height)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	header := headerStyle.Render(fmt.Sprintf("%d books found for: %s", len(m.list.Items()), m.searchTitle))
	listView := m.list.View()
	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		skipButtonStyle.Render(" Back "),
		lipgloss.NewStyle().Padding(0, 2).Render(""),
		stopButtonStyle.Render(" Quit "),
	)
	help := helpStyle.Render("Up/Down navigate | Enter pick | s back | q quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, listView, buttons, help)
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			MarginBottom(1)

	skipButtonStyle = lipgloss.NewStyle().
			MarginTop(1).
			Padding(0, 2).
			Background(lipgloss.Color("178")).
			Foreground(lipgloss.Color("0")).
			Bold(true)

	stopButtonStyle = lipgloss.NewStyle().
			MarginTop(1).
			Padding(0, 2).
			Background(lipgloss.Color("161")).
			Foreground(lipgloss.Color("230")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(lipgloss.Color("244"))
)

// Select lets the user pick one book from books. Records with neither a
// download nor a preview link are not offered.
func Select(title string, books []book.Record) (SelectionResult, error) {
	items := make([]bookItem, 0, len(books))
	for _, rec := range books {
		if rec.Actionable() {
			items = append(items, bookItem{Record: rec})
		}
	}
	if len(items) == 0 {
		return SelectionResult{Action: ActionSkipped}, nil
	}

	m := newModel(title, items)
	finalModel, err := runProgram(m)
	if err != nil {
		return SelectionResult{}, err
	}

	if typed, ok := finalModel.(*model); ok {
		return typed.result, nil
	}

	return SelectionResult{}, fmt.Errorf("unexpected program result")
}

func truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if width <= 0 || len(runes) <= width {
		return value
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

// formatMetadata builds the author | year | languages | downloads line.
func formatMetadata(rec book.Record, availableWidth int) string {
	var parts []string

	if rec.Author != "" {
		parts = append(parts, rec.Author)
	}
	if rec.PublishedYear > 0 {
		parts = append(parts, fmt.Sprintf("%d", rec.PublishedYear))
	}
	if len(rec.Languages) > 0 {
		parts = append(parts, strings.ToUpper(strings.Join(rec.Languages, ",")))
	}
	if rec.DownloadCount > 0 {
		parts = append(parts, formatDownloadCount(rec.DownloadCount))
	}

	if len(parts) == 0 {
		return "No metadata available"
	}

	return truncate(strings.Join(parts, " | "), availableWidth)
}

// actionLabel says what picking the book will do.
func actionLabel(rec book.Record) string {
	var labels []string
	for _, f := range rec.Formats {
		if f.Label != "" {
			labels = append(labels, f.Label)
		}
	}
	switch {
	case rec.HasDirectDownload() && len(labels) > 0:
		return "Download: " + strings.Join(labels, ", ")
	case rec.HasDirectDownload():
		return "Download available"
	default:
		return "Preview only"
	}
}

func formatDownloadCount(count int) string {
	if count >= 1000 {
		return fmt.Sprintf("%.1fK downloads", float64(count)/1000)
	}
	return fmt.Sprintf("%d downloads", count)
}

func clamp(defaultValue, available, minimum int) int {
	width := defaultValue
	if available > 0 && available < defaultValue {
		width = available
	}
	if width < minimum {
		width = minimum
	}
	return width
}
