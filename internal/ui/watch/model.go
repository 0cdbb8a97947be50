package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sawpanic/moverun/internal/domain/market"
	api "github.com/sawpanic/moverun/internal/interfaces/http"
	"github.com/sawpanic/moverun/internal/pipeline"
)

const (
	maxMovements = 20
	maxHeadlines = 8
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	upStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)

	keyQuit    = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyRefresh = key.NewBinding(key.WithKeys("r"))
)

// Source is what the dashboard polls; *Client implements it
type Source interface {
	Symbols(ctx context.Context) (api.SymbolsResponse, error)
	Movements(ctx context.Context, since uint64) (api.EventsResponse, error)
	News(ctx context.Context, limit int) (api.NewsResponse, error)
}

type tickMsg time.Time

// snapshotMsg carries one poll's results
type snapshotMsg struct {
	symbols   []pipeline.SymbolStatus
	movements []market.MovementRecord
	next      uint64
	news      []market.NewsArticle
	err       error
	at        time.Time
}

// Model is the dashboard state
type Model struct {
	src      Source
	interval time.Duration

	table     table.Model
	movements []market.MovementRecord // newest first
	news      []market.NewsArticle
	cursor    uint64
	lastPoll  time.Time
	err       error
	width     int
}

// NewModel polls src every interval
func NewModel(src Source, interval time.Duration) *Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 8},
			{Title: "State", Width: 12},
			{Title: "Price", Width: 11},
			{Title: "Source", Width: 12},
			{Title: "Chg %", Width: 8},
			{Title: "Fails", Width: 5},
			{Title: "Last error", Width: 34},
		}),
		table.WithHeight(12),
	)
	return &Model{src: src, interval: interval, table: t}
}

// Init starts the first poll immediately
func (m *Model) Init() tea.Cmd {
	return m.poll()
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) poll() tea.Cmd {
	since := m.cursor
	src := m.src
	timeout := m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		out := snapshotMsg{at: time.Now(), next: since}
		syms, err := src.Symbols(ctx)
		if err != nil {
			out.err = err
			return out
		}
		out.symbols = syms.Symbols

		mv, err := src.Movements(ctx, since)
		if err != nil {
			out.err = err
			return out
		}
		for _, ev := range mv.Events {
			if ev.Movement != nil {
				out.movements = append(out.movements, *ev.Movement)
			}
		}
		out.next = mv.Next

		nw, err := src.News(ctx, maxHeadlines)
		if err != nil {
			out.err = err
			return out
		}
		out.news = nw.Articles
		return out
	}
}

// Update handles keys, poll ticks and poll results
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyRefresh):
			return m, m.poll()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, m.poll()
	case snapshotMsg:
		m.apply(msg)
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) apply(s snapshotMsg) {
	m.lastPoll = s.at
	m.err = s.err
	if s.err != nil {
		return
	}
	m.cursor = s.next

	rows := make([]table.Row, 0, len(s.symbols))
	for _, st := range s.symbols {
		price, src := "-", "-"
		if st.LastSample != nil {
			price = st.LastSample.Price.StringFixed(2)
			src = st.LastSample.SourceID
		}
		rows = append(rows, table.Row{
			string(st.Symbol),
			st.State.String(),
			price,
			src,
			fmt.Sprintf("%+.2f", st.LastChangePct),
			fmt.Sprint(st.ConsecutiveFailures),
			truncate(st.LastError, 34),
		})
	}
	m.table.SetRows(rows)

	// newest first
	for _, rec := range s.movements {
		m.movements = append([]market.MovementRecord{rec}, m.movements...)
	}
	if len(m.movements) > maxMovements {
		m.movements = m.movements[:maxMovements]
	}
	m.news = s.news
}

// View renders the dashboard
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("moverun"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  polled %s  [r] refresh  [q] quit", m.lastPoll.Format("15:04:05"))))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("poll failed: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(boxStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.movementsView()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.newsView()))
	return b.String()
}

func (m *Model) movementsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Movements"))
	if len(m.movements) == 0 {
		b.WriteString("\n" + mutedStyle.Render("No significant movements yet"))
		return b.String()
	}
	for _, rec := range m.movements {
		ev := rec.Movement
		style := upStyle
		if ev.Classification == market.ClassSignificantDown {
			style = downStyle
		}
		line := fmt.Sprintf("%s %-6s %s -> %s (%+.2f%%)",
			ev.DetectedAt.Local().Format("15:04:05"), ev.Symbol,
			ev.ReferencePrice.StringFixed(2), ev.CurrentPrice.StringFixed(2), ev.ChangePercent)
		b.WriteString("\n" + style.Render(line))

		if c := rec.Correlation; c.HasCatalyst() {
			b.WriteString(fmt.Sprintf("\n    %s %s", mutedStyle.Render(fmt.Sprintf("[%.0f%%]", c.Confidence*100)),
				truncate(c.Candidates[0].Article.Title, 70)))
		} else {
			b.WriteString("\n    " + mutedStyle.Render("no correlated news"))
		}
	}
	return b.String()
}

func (m *Model) newsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Headlines"))
	if len(m.news) == 0 {
		b.WriteString("\n" + mutedStyle.Render("No news cached"))
		return b.String()
	}
	for _, a := range m.news {
		syms := make([]string, len(a.MatchedSymbols))
		for i, s := range a.MatchedSymbols {
			syms[i] = string(s)
		}
		b.WriteString(fmt.Sprintf("\n%s %-16s %s %s",
			a.PublishedAt.Local().Format("15:04"), truncate(a.SourceID, 16),
			truncate(a.Title, 70), mutedStyle.Render(strings.Join(syms, ","))))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
